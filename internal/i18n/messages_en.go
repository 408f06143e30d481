package i18n

// englishMessages contains all English translations.
var englishMessages = map[string]string{
	// Scan reports
	"report.unavailable_header": "Playlist \"%s\": %d new unavailable tracks",
	"report.download_header":    "Playlist \"%s\": %d new unavailable tracks, substitutes attached",
	"report.backup_header":      "Playlist \"%s\": backup of %d tracks attached",

	// Archive captions
	"archive.volume": "Part %d of %d",
}
