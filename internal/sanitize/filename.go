// Package sanitize normalizes user-supplied filenames into safe,
// deterministic storage names.
package sanitize

import "strings"

var replacer = strings.NewReplacer(
	"ä", "ae",
	"ö", "oe",
	"ü", "ue",
	"ß", "ss",
	"&", "und",
	"'", "",
	"\"", "",
	"(", "_",
	")", "_",
	" ", "_",
)

// Filename lower-cases the name, transliterates umlauts and symbols to
// ASCII, strips quotes and replaces parentheses and spaces with
// underscores. It is pure and idempotent; empty input yields empty
// output.
func Filename(name string) string {
	return replacer.Replace(strings.ToLower(name))
}
