package textutil

import (
	"path/filepath"
	"strings"
	"unicode"
)

var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

const maxNameRunes = 120

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; control
// characters and the remaining unsafe characters are removed.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(fileNameReplacer.Replace(name))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.Trim(name, ". ")
	if runes := []rune(name); len(runes) > maxNameRunes {
		name = strings.TrimSpace(string(runes[:maxNameRunes]))
	}
	return name
}

// DownloadName builds the file name offered when a link is saved. The stem
// comes from title (or fallback when title is unusable), the extension from
// the served object, and derived stages are appended as a suffix.
func DownloadName(title, fallback, storageRef, stage string) string {
	ext := strings.ToLower(filepath.Ext(storageRef))
	stem := SanitizeFileName(title)
	if titleExt := filepath.Ext(stem); titleExt != "" && len(titleExt) <= 6 && !strings.Contains(titleExt, " ") {
		stem = strings.TrimSuffix(stem, titleExt)
	}
	if stem == "" {
		stem = SanitizeFileName(fallback)
	}
	if stem == "" {
		stem = "download"
	}
	if stage = strings.TrimSpace(stage); stage != "" && stage != "raw" {
		stem += "-" + stage
	}
	return stem + ext
}
