// Package naming provides pure formatting of track display names and file names.
package naming

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// ArtistSeparator joins multiple artist names in a display name
	ArtistSeparator = ", "
	// MaxFileNameBytes keeps generated names below common filesystem limits
	MaxFileNameBytes = 200
	// replacementRune substitutes characters that are not allowed in file names
	replacementRune = '_'
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	keyRegex        = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)
)

// DisplayName builds "<artist1, artist2> - <title> (<version>)".
// Missing artists or version drop the corresponding part.
func DisplayName(title string, artists []string, version string) string {
	title = strings.TrimSpace(title)

	var names []string
	for _, artist := range artists {
		if artist = strings.TrimSpace(artist); artist != "" {
			names = append(names, artist)
		}
	}

	name := title
	if len(names) > 0 {
		name = strings.Join(names, ArtistSeparator) + " - " + title
	}

	if version = strings.TrimSpace(version); version != "" {
		name += " (" + version + ")"
	}

	return name
}

// FileName turns a display name into a safe file name with the given extension.
func FileName(name, ext string) string {
	base := sanitize(name)
	if base == "" {
		base = "track"
	}

	ext = strings.TrimPrefix(ext, ".")
	limit := MaxFileNameBytes
	if ext != "" {
		limit -= len(ext) + 1
	}
	base = truncate(base, limit)

	if ext == "" {
		return base
	}
	return base + "." + ext
}

// StorageKey reduces a user name to characters usable in a database file name.
func StorageKey(user string) string {
	key := norm.NFC.String(strings.ToLower(strings.TrimSpace(user)))
	key = keyRegex.ReplaceAllString(key, "_")
	key = strings.Trim(key, "_")
	if key == "" {
		return "default"
	}
	return truncate(key, MaxFileNameBytes/2)
}

func sanitize(name string) string {
	forbidden := runes.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(`<>:"/\|?*`, r) {
			return replacementRune
		}
		return r
	})

	result, _, err := transform.String(transform.Chain(norm.NFC, forbidden), name)
	if err != nil {
		result = name
	}

	result = whitespaceRegex.ReplaceAllString(result, " ")
	return strings.Trim(result, " .")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " .")
}
