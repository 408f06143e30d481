package i18n

// russianMessages contains all Russian translations.
var russianMessages = map[string]string{
	// Scan reports
	"report.unavailable_header": "Плейлист \"%s\": новых недоступных треков: %d",
	"report.download_header":    "Плейлист \"%s\": новых недоступных треков: %d, замены во вложении",
	"report.backup_header":      "Плейлист \"%s\": резервная копия, треков: %d",

	// Archive captions
	"archive.volume": "Часть %d из %d",
}
