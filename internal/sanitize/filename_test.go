package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilename(t *testing.T) {
	cases := map[string]string{
		"":                      "",
		"IMG_0042.JPG":          "img_0042.jpg",
		"Füße & Hände (2).png":  "fuesse_und_haende__2_.png",
		"it's \"quoted\".jpg":   "its_quoted.jpg",
		"Straße über Öl.jpeg":   "strasse_ueber_oel.jpeg",
		"already_clean.mp4":     "already_clean.mp4",
		"spaces in a name.jpeg": "spaces_in_a_name.jpeg",
	}

	for in, want := range cases {
		assert.Equal(t, want, Filename(in), "input %q", in)
	}
}

func TestFilename_Idempotent(t *testing.T) {
	inputs := []string{
		"Füße & Hände (2).png",
		"UPPER lower.JPG",
		"ärger.mov",
		"",
	}
	for _, in := range inputs {
		once := Filename(in)
		assert.Equal(t, once, Filename(once), "input %q", in)
	}
}

func TestFilename_Pure(t *testing.T) {
	in := "Wörter & Sätze.png"
	assert.Equal(t, Filename(in), Filename(in))
}
