package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/loqalabs/loqa-scribe/internal/history"
)

const pdfTitleSize = 18

// PDF renders a paginated document. The output is byte-for-byte reproducible
// for the same record and options: document dates are pinned to the record's
// creation time. Text is embedded as UTF-8 with a subset of the bundled
// DejaVu Sans, or of opts.FontPath when set; characters the font cannot draw
// fail with ErrUnsupportedText.
func PDF(rec history.Record, opts Options) ([]byte, error) {
	lines := bodyLines(rec)
	if len(lines) == 0 {
		return nil, ErrEmptyInput
	}
	opts = opts.withDefaults()

	tf, err := loadTypeface(opts.FontPath)
	if err != nil {
		return nil, err
	}
	var date, tags string
	if !rec.CreatedAt.IsZero() {
		date = rec.CreatedAt.Format(opts.TitleLayout)
	}
	if len(rec.Tags) > 0 {
		tags = "Tags: " + strings.Join(rec.Tags, ", ")
	}
	if err := tf.check(append([]string{title(rec), date, tags}, lines...)...); err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", opts.PageSize, "")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(rec.CreatedAt)
	pdf.SetModificationDate(rec.CreatedAt)
	pdf.SetCompression(true)
	pdf.SetTitle(title(rec), true)
	pdf.SetCreator("loqa-scribe", true)
	pdf.SetMargins(opts.MarginMM, opts.MarginMM, opts.MarginMM)
	pdf.SetAutoPageBreak(true, opts.MarginMM)
	for _, style := range []string{"", "B", "I"} {
		pdf.AddUTF8FontFromBytes(tf.family, style, tf.styles[style])
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("register pdf font: %w", err)
	}

	lineHeight := opts.FontSize * 0.5
	pdf.AddPage()

	pdf.SetFont(tf.family, "B", pdfTitleSize)
	pdf.MultiCell(0, pdfTitleSize*0.5, title(rec), "", "L", false)
	if date != "" {
		pdf.SetFont(tf.family, "I", opts.FontSize-2)
		pdf.MultiCell(0, lineHeight, date, "", "L", false)
	}
	if tags != "" {
		pdf.SetFont(tf.family, "", opts.FontSize-2)
		pdf.MultiCell(0, lineHeight, tags, "", "L", false)
	}
	pdf.Ln(lineHeight)

	pdf.SetFont(tf.family, "", opts.FontSize)
	for _, line := range lines {
		pdf.MultiCell(0, lineHeight, line, "", "L", false)
		pdf.Ln(lineHeight / 2)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// WritePDF renders rec into path through a temp file in the same directory,
// so a failed export never leaves a partial document behind.
func WritePDF(path string, rec history.Record, opts Options) error {
	data, err := PDF(rec, opts)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// WriteDocument writes an already rendered document to path atomically.
func WriteDocument(path string, doc Document) error {
	if len(doc.Data) == 0 {
		return ErrEmptyInput
	}
	return writeAtomic(path, doc.Data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close export: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("move export into place: %w", err)
	}
	return nil
}

// WriteFile renders rec in format into dir and returns the written path.
func WriteFile(dir string, rec history.Record, format Format, opts Options) (string, error) {
	doc, err := Render(rec, format, opts)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, doc.Filename)
	if err := writeAtomic(path, doc.Data); err != nil {
		return "", err
	}
	return path, nil
}
