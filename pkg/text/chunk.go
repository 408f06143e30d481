// Package text provides splitting of outbound chat messages.
package text

import "unicode/utf8"

// MaxMessageLength is the largest message, in characters, a chat channel accepts.
const MaxMessageLength = 4096

// Chunk splits s into consecutive pieces of at most limit characters.
// Concatenating the pieces in order yields s again. An empty s yields no pieces.
func Chunk(s string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}

	chunks := make([]string, 0, utf8.RuneCountInString(s)/limit+1)
	for len(s) > 0 {
		end, count := 0, 0
		for end < len(s) && count < limit {
			_, size := utf8.DecodeRuneInString(s[end:])
			end += size
			count++
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}

	return chunks
}
