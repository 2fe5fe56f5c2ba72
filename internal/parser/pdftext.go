package parser

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFText is the extracted text of a document as visual lines per page.
type PDFText struct {
	Pages [][]string
}

// Lines returns every line of every page in reading order.
func (t *PDFText) Lines() []string {
	var out []string
	for _, page := range t.Pages {
		out = append(out, page...)
	}
	return out
}

// String joins all lines with newlines.
func (t *PDFText) String() string {
	return strings.Join(t.Lines(), "\n")
}

// IsEncryptedPDF reports whether the trailer declares an /Encrypt dictionary.
func IsEncryptedPDF(content []byte) bool {
	return bytes.Contains(content, []byte("/Encrypt"))
}

// OpenPDF opens content, decrypting with password when the file is encrypted.
// Failures are returned as *Error: MISSING_PARAM when a password is needed but
// none was given, BAD_CREDENTIAL when it is wrong and CORRUPT otherwise.
func OpenPDF(name string, content []byte, password string) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r = nil
			err = NewError(ErrCorrupt, name, "unreadable PDF", fmt.Errorf("panic: %v", rec))
		}
	}()

	tried := false
	reader, err := pdf.NewReaderEncrypted(bytes.NewReader(content), int64(len(content)), func() string {
		if tried {
			return ""
		}
		tried = true
		return password
	})
	if err == nil {
		return reader, nil
	}
	if errors.Is(err, pdf.ErrInvalidPassword) {
		if password == "" {
			return nil, NewError(ErrMissingParam, name, "encrypted PDF requires a password", err)
		}
		return nil, NewError(ErrBadCredential, name, "unable to decrypt PDF with the provided password", err)
	}
	return nil, NewError(ErrCorrupt, name, "unreadable PDF", err)
}

// ExtractPDFText opens content and returns its text grouped into lines.
func ExtractPDFText(name string, content []byte, password string) (*PDFText, error) {
	reader, err := OpenPDF(name, content, password)
	if err != nil {
		return nil, err
	}
	return extractPages(name, reader, reader.NumPage())
}

// FirstPageText returns the first page of content as plain text.
func FirstPageText(content []byte, password string) (string, error) {
	reader, err := OpenPDF("", content, password)
	if err != nil {
		return "", err
	}
	text, err := extractPages("", reader, 1)
	if err != nil {
		return "", err
	}
	return text.String(), nil
}

func extractPages(name string, reader *pdf.Reader, limit int) (out *PDFText, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = NewError(ErrCorrupt, name, "unreadable PDF content", fmt.Errorf("panic: %v", rec))
		}
	}()

	out = &PDFText{}
	total := reader.NumPage()
	if limit > total {
		limit = total
	}
	for i := 1; i <= limit; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			out.Pages = append(out.Pages, nil)
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, NewError(ErrCorrupt, name, fmt.Sprintf("reading page %d", i), err)
		}
		out.Pages = append(out.Pages, rowsToLines(rows))
	}
	return out, nil
}

// rowsToLines orders rows top to bottom and joins each row's fragments left
// to right, inserting a space where fragments do not touch.
func rowsToLines(rows pdf.Rows) []string {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Position > rows[j].Position })

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		words := row.Content
		sort.SliceStable(words, func(i, j int) bool { return words[i].X < words[j].X })

		var b strings.Builder
		prevEnd := 0.0
		for i, w := range words {
			if i > 0 && w.X-prevEnd > 1.0 && !strings.HasSuffix(b.String(), " ") {
				b.WriteByte(' ')
			}
			b.WriteString(w.S)
			prevEnd = w.X + w.W
		}
		line := strings.Join(strings.Fields(b.String()), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
