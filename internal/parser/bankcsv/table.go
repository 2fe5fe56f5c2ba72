package bankcsv

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"
)

// headerScanLimit is how many non-empty lines may precede the header.
const headerScanLimit = 40

// columnMap holds resolved header indexes; -1 means absent.
type columnMap struct {
	date, posted, debit, credit, amount, direction, reference, currency, balance int
	description                                                                  []int
}

func (m columnMap) signed() bool {
	return m.amount >= 0
}

// resolve matches profile aliases against header. It reports false when the
// profile's mandatory columns are not all present.
func resolve(p Profile, header []string) (columnMap, bool) {
	norm := make([]string, len(header))
	for i, h := range header {
		norm[i] = strings.ToLower(strings.Join(strings.Fields(h), " "))
	}
	for _, req := range p.RequiredHeaders {
		if findHeader(norm, []string{req}, nil) < 0 {
			return columnMap{}, false
		}
	}

	used := map[int]bool{}
	pick := func(aliases []string) int {
		idx := findHeader(norm, aliases, used)
		if idx >= 0 {
			used[idx] = true
		}
		return idx
	}

	m := columnMap{}
	m.date = pick(p.Columns.Date)
	m.posted = pick(p.Columns.PostedDate)
	for _, alias := range p.Columns.Description {
		if idx := pick([]string{alias}); idx >= 0 {
			m.description = append(m.description, idx)
		}
	}
	m.debit = pick(p.Columns.Debit)
	m.credit = pick(p.Columns.Credit)
	m.amount = pick(p.Columns.Amount)
	m.direction = pick(p.Columns.Direction)
	m.reference = pick(p.Columns.Reference)
	m.currency = pick(p.Columns.Currency)
	m.balance = pick(p.Columns.Balance)

	if m.date < 0 || len(m.description) == 0 {
		return columnMap{}, false
	}
	if len(p.Columns.Direction) > 0 && m.direction < 0 {
		return columnMap{}, false
	}
	if m.amount < 0 && (m.debit < 0 || m.credit < 0) {
		return columnMap{}, false
	}
	return m, true
}

func findHeader(norm []string, aliases []string, used map[int]bool) int {
	for _, alias := range aliases {
		a := strings.ToLower(alias)
		for i, h := range norm {
			if !used[i] && h == a {
				return i
			}
		}
	}
	for _, alias := range aliases {
		a := strings.ToLower(alias)
		for i, h := range norm {
			if !used[i] && strings.Contains(h, a) {
				return i
			}
		}
	}
	return -1
}

// table is a CSV body located after any preamble.
type table struct {
	header     []string
	columns    columnMap
	body       []byte
	headerLine int // 1-based physical line of the header
}

// locate scans for the first line that resolves as a header for p.
func locate(p Profile, content []byte) (*table, bool) {
	content = bytes.TrimPrefix(content, []byte("\ufeff"))
	lines := bytes.SplitAfter(content, []byte("\n"))
	offset := 0
	nonEmpty := 0
	for i, line := range lines {
		if nonEmpty >= headerScanLimit {
			break
		}
		offset += len(line)
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		nonEmpty++
		header, err := splitLine(p, line)
		if err != nil {
			continue
		}
		if cols, ok := resolve(p, header); ok {
			for j := range header {
				header[j] = strings.TrimSpace(header[j])
			}
			return &table{header: header, columns: cols, body: content[offset:], headerLine: i + 1}, true
		}
	}
	return nil, false
}

func splitLine(p Profile, line []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(line))
	r.Comma = p.delimiter()
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	return r.Read()
}

// row is one data record with its physical line number.
type row struct {
	line   int
	fields []string
}

// rows reads the body, merging surplus fields into the first description
// column and padding short records.
func (t *table) rows(p Profile) ([]row, error) {
	r := csv.NewReader(bytes.NewReader(t.body))
	r.Comma = p.delimiter()
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var out []row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		line, _ := r.FieldPos(0)
		out = append(out, row{line: t.headerLine + line, fields: t.fit(rec)})
	}
}

func (t *table) fit(rec []string) []string {
	n := len(t.header)
	if extra := len(rec) - n; extra > 0 {
		at := t.columns.description[0]
		merged := strings.Join(rec[at:at+extra+1], ", ")
		fitted := make([]string, 0, n)
		fitted = append(fitted, rec[:at]...)
		fitted = append(fitted, merged)
		fitted = append(fitted, rec[at+extra+1:]...)
		rec = fitted
	}
	for len(rec) < n {
		rec = append(rec, "")
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	return rec
}

func cell(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.Trim(f, " *-") != "" {
			return false
		}
	}
	return true
}
