package archive

import (
	"fmt"
	"strings"
)

var illegalFileChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_", "/", "_",
	`\`, "_", "|", "_", "?", "_", "*", "_",
)

// SanitizeTitle replaces characters that are not allowed in file names.
func SanitizeTitle(title string) string {
	return strings.TrimSpace(illegalFileChars.Replace(title))
}

// FileName is the stable destination name of an item; the same item always
// maps to the same path.
func FileName(username, title string, durationSec, views int) string {
	return fmt.Sprintf("%s_%s_%dsec_%dviews.mp4", SanitizeTitle(username), SanitizeTitle(title), durationSec, views)
}
