package naming

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		artists  []string
		version  string
		expected string
	}{
		{
			name:     "Single artist",
			title:    "Song",
			artists:  []string{"Artist"},
			expected: "Artist - Song",
		},
		{
			name:     "Multiple artists keep order",
			title:    "Song",
			artists:  []string{"Second", "First"},
			expected: "Second, First - Song",
		},
		{
			name:     "Multiple artists and version",
			title:    "Song",
			artists:  []string{"A", "B"},
			version:  "Remix",
			expected: "A, B - Song (Remix)",
		},
		{
			name:     "Single artist with version",
			title:    "Song",
			artists:  []string{"A"},
			version:  "Live",
			expected: "A - Song (Live)",
		},
		{
			name:     "No artists",
			title:    "Song",
			expected: "Song",
		},
		{
			name:     "Blank artists are skipped",
			title:    "Song",
			artists:  []string{" ", "A"},
			expected: "A - Song",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DisplayName(tt.title, tt.artists, tt.version)
			if result != tt.expected {
				t.Errorf("DisplayName() = %q, want %q", result, tt.expected)
			}
			if again := DisplayName(tt.title, tt.artists, tt.version); again != result {
				t.Errorf("DisplayName() is not deterministic: %q vs %q", result, again)
			}
		})
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		ext      string
		expected string
	}{
		{"Plain", "Artist - Song", "mp3", "Artist - Song.mp3"},
		{"Extension with dot", "Artist - Song", ".mp3", "Artist - Song.mp3"},
		{"Forbidden characters", `AC/DC - What? "Yes": <No>`, "mp3", "AC_DC - What_ _Yes__ _No_.mp3"},
		{"Collapses whitespace", "A   -   B", "mp3", "A - B.mp3"},
		{"Trailing dots trimmed", "Song...", "mp3", "Song.mp3"},
		{"Empty name", "", "mp3", "track.mp3"},
		{"Cyrillic kept", "Кино - Группа крови", "mp3", "Кино - Группа крови.mp3"},
		{"No extension", "Song", "", "Song"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FileName(tt.input, tt.ext)
			if result != tt.expected {
				t.Errorf("FileName() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestFileNameTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("й", 300)

	result := FileName(long, "mp3")

	if len(result) > MaxFileNameBytes {
		t.Errorf("FileName() length %d exceeds %d", len(result), MaxFileNameBytes)
	}
	if !utf8.ValidString(result) {
		t.Errorf("FileName() produced invalid UTF-8: %q", result)
	}
	if !strings.HasSuffix(result, ".mp3") {
		t.Errorf("FileName() lost extension: %q", result)
	}
}

func TestStorageKey(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"alice", "alice"},
		{"  Alice Smith ", "alice_smith"},
		{"../etc/passwd", "etc_passwd"},
		{"", "default"},
		{"user-1", "user-1"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := StorageKey(tt.input); result != tt.expected {
				t.Errorf("StorageKey(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
