// Package archive packs produced audio files into size-bounded zip volumes inside a staging directory.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultVolumeSize stays below the 50 MB upload limit of Telegram bots
	DefaultVolumeSize int64 = 49 * 1024 * 1024

	// local header, data descriptor, central directory record and timestamp extras per entry
	entryOverhead  = 128
	volumeOverhead = 64
	dirPermission  = 0o755
)

// ErrNoFiles is returned when Pack is called without input files.
var ErrNoFiles = errors.New("archive: no files to pack")

// Archive is a set of zip volumes owned by a staging directory.
type Archive struct {
	Volumes    []string
	StagingDir string

	once       sync.Once
	cleanupErr error
}

// NewStagingDir creates a uniquely named directory below root.
func NewStagingDir(root string) (string, error) {
	dir := filepath.Join(root, uuid.New().String())
	if err := os.MkdirAll(dir, dirPermission); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return dir, nil
}

// Pack writes files into zip volumes named after baseName inside stagingDir.
// Files are stored uncompressed and never split, so a single file above
// maxVolumeBytes gets a volume of its own.
func Pack(files []string, stagingDir, baseName string, maxVolumeBytes int64) (*Archive, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if maxVolumeBytes <= 0 {
		maxVolumeBytes = DefaultVolumeSize
	}

	groups, err := group(files, maxVolumeBytes)
	if err != nil {
		return nil, err
	}

	archive := &Archive{StagingDir: stagingDir}
	for i, members := range groups {
		name := baseName + ".zip"
		if len(groups) > 1 {
			name = fmt.Sprintf("%s.part%02d.zip", baseName, i+1)
		}
		path := filepath.Join(stagingDir, name)
		if err := writeVolume(path, members); err != nil {
			_ = archive.Cleanup()
			return nil, err
		}
		archive.Volumes = append(archive.Volumes, path)
	}

	return archive, nil
}

// Cleanup removes the volumes and the staging directory. Only the first call has an effect.
func (a *Archive) Cleanup() error {
	a.once.Do(func() {
		var errs []error
		for _, volume := range a.Volumes {
			if err := os.Remove(volume); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
		}
		if a.StagingDir != "" {
			if err := os.RemoveAll(a.StagingDir); err != nil {
				errs = append(errs, err)
			}
		}
		a.cleanupErr = errors.Join(errs...)
	})
	return a.cleanupErr
}

func group(files []string, maxVolumeBytes int64) ([][]string, error) {
	var groups [][]string
	var current []string
	var size int64 = volumeOverhead

	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", file, err)
		}
		entry := info.Size() + entryOverhead + 2*int64(len(filepath.Base(file)))

		if len(current) > 0 && size+entry > maxVolumeBytes {
			groups = append(groups, current)
			current = nil
			size = volumeOverhead
		}
		current = append(current, file)
		size += entry
	}

	return append(groups, current), nil
}

func writeVolume(path string, members []string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create volume: %w", err)
	}

	writer := zip.NewWriter(out)
	for _, member := range members {
		if err := addFile(writer, member); err != nil {
			_ = writer.Close()
			_ = out.Close()
			return err
		}
	}

	if err := writer.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to finish volume: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close volume: %w", err)
	}
	return nil
}

func addFile(writer *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer in.Close()

	entry, err := writer.CreateHeader(&zip.FileHeader{
		Name:     filepath.Base(path),
		Method:   zip.Store,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", path, err)
	}
	if _, err := io.Copy(entry, in); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
