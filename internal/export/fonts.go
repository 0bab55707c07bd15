package export

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"sync"
	"unicode"

	"golang.org/x/image/font/sfnt"
)

// ErrUnsupportedText is returned when the PDF font has no glyph for a
// character of the record; fpdf would otherwise drop it silently.
var ErrUnsupportedText = errors.New("export: text not covered by pdf font")

//go:embed fonts/*.ttf
var bundledFonts embed.FS

const pdfFamily = "DejaVuSansCondensed"

// typeface holds the TrueType programs registered with fpdf per style, and
// the parsed regular face used to check glyph coverage up front.
type typeface struct {
	family string
	styles map[string][]byte
	face   *sfnt.Font
}

var (
	bundledOnce sync.Once
	bundled     *typeface
	bundledErr  error
)

func loadTypeface(path string) (*typeface, error) {
	if path == "" {
		bundledOnce.Do(func() { bundled, bundledErr = loadBundled() })
		return bundled, bundledErr
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf font: %w", err)
	}
	face, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse pdf font %s: %w", path, err)
	}
	// A single custom file serves every style.
	return &typeface{
		family: "custom",
		styles: map[string][]byte{"": data, "B": data, "I": data},
		face:   face,
	}, nil
}

func loadBundled() (*typeface, error) {
	files := map[string]string{
		"":  "fonts/DejaVuSansCondensed.ttf",
		"B": "fonts/DejaVuSansCondensed-Bold.ttf",
		"I": "fonts/DejaVuSansCondensed-Oblique.ttf",
	}
	tf := &typeface{family: pdfFamily, styles: make(map[string][]byte, len(files))}
	for style, name := range files {
		data, err := bundledFonts.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("load bundled font: %w", err)
		}
		tf.styles[style] = data
	}
	face, err := sfnt.Parse(tf.styles[""])
	if err != nil {
		return nil, fmt.Errorf("parse bundled font: %w", err)
	}
	tf.face = face
	return tf, nil
}

// check reports the first printable rune in texts the face cannot draw.
func (tf *typeface) check(texts ...string) error {
	var buf sfnt.Buffer
	for _, text := range texts {
		for _, r := range text {
			if unicode.IsSpace(r) || unicode.IsControl(r) {
				continue
			}
			idx, err := tf.face.GlyphIndex(&buf, r)
			if err != nil {
				return fmt.Errorf("lookup glyph %U: %w", r, err)
			}
			if idx == 0 {
				return fmt.Errorf("%w: %q (%U)", ErrUnsupportedText, r, r)
			}
		}
	}
	return nil
}
