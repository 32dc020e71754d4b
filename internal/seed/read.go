package seed

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	xls "github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// oleMagic starts every legacy .xls (OLE compound file).
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}

// readTable decodes the first sheet of a spreadsheet into rows of cells. The
// format comes from the extension, or from the content when the extension
// says nothing.
func readTable(name string, b []byte) ([][]string, error) {
	head := b
	if len(head) > 512 {
		head = head[:512]
	}
	ext := strings.ToLower(path.Ext(name))
	switch {
	case ext == ".xlsx" || (ext != ".csv" && strings.HasPrefix(http.DetectContentType(head), "application/zip")):
		return readXLSX(b)
	case ext == ".xls" || (ext != ".csv" && bytes.HasPrefix(head, oleMagic)):
		return readXLS(b)
	default:
		return readCSV(bytes.NewReader(b))
	}
}

func readCSV(r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	sample, _ := br.Peek(4096)
	sample = bytes.TrimPrefix(sample, []byte("\xef\xbb\xbf"))
	cr := csv.NewReader(skipBOM(br))
	cr.Comma = detectDelimiter(sample)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var out [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if blank(rec) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func skipBOM(br *bufio.Reader) io.Reader {
	if b, err := br.Peek(3); err == nil && bytes.Equal(b, []byte("\xef\xbb\xbf")) {
		_, _ = br.Discard(3)
	}
	return br
}

func detectDelimiter(b []byte) rune {
	// Only the header line is counted; descriptions may be full of commas.
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	cComma := bytes.Count(b, []byte{','})
	cTab := bytes.Count(b, []byte{'\t'})
	cSemi := bytes.Count(b, []byte{';'})
	if cTab > cComma && cTab > cSemi {
		return '\t'
	}
	if cSemi > cComma {
		return ';'
	}
	return ','
}

func readXLSX(b []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]string
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		if blank(cols) {
			continue
		}
		out = append(out, cols)
	}
	return out, rows.Error()
}

func readXLS(b []byte) ([][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(b), "utf-8")
	if err != nil {
		return nil, err
	}
	if wb.NumSheets() == 0 {
		return nil, nil
	}
	sh := wb.GetSheet(0)
	if sh == nil {
		return nil, nil
	}
	out := make([][]string, 0, sh.MaxRow)
	for i := 0; i <= int(sh.MaxRow); i++ {
		row := sh.Row(i)
		if row == nil {
			continue
		}
		cols := make([]string, 0, row.LastCol())
		for c := row.FirstCol(); c < row.LastCol(); c++ {
			cols = append(cols, row.Col(c))
		}
		if blank(cols) {
			continue
		}
		out = append(out, cols)
	}
	return out, nil
}

func blank(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// header maps normalised column names to their index. Each field may be
// known under several names; the first alias present wins.
type header map[string]int

func newHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.Join(strings.Fields(key), "_")
		if _, dup := h[key]; !dup {
			h[key] = i
		}
	}
	return h
}

func (h header) has(aliases ...string) bool {
	for _, a := range aliases {
		if _, ok := h[a]; ok {
			return true
		}
	}
	return false
}

func (h header) get(row []string, aliases ...string) string {
	for _, a := range aliases {
		if i, ok := h[a]; ok {
			if i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
	}
	return ""
}
