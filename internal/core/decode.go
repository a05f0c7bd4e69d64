package core

// decode.go turns uploaded file bytes into RawRows.
//
// Layout shared by every format:
//   - Row 1: column headers
//   - Row 2: instruction row (as written by GenerateTemplate), always dropped
//     even when left blank
//   - Row 3+: data
//
// Wholly blank data rows are dropped; the remaining rows keep the physical
// line number they had in the file.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// DataRowOffset is the physical line of the first data row.
const DataRowOffset = 3

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SupportedExtensions lists the file extensions Decode accepts.
var SupportedExtensions = []string{".csv", ".xlsx", ".xls"}

// sheetRecord is one physical row before header mapping.
type sheetRecord struct {
	line  int
	cells []string
}

// Decode parses data according to the extension of filename.
func Decode(data []byte, filename string) ([]RawRow, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	var (
		records []sheetRecord
		err     error
	)
	switch ext {
	case ".csv":
		records, err = readCSV(data)
	case ".xlsx":
		records, err = readXLSX(data)
	case ".xls":
		records, err = readXLS(data)
	default:
		return nil, &DecodeError{Kind: UnsupportedFormat, Extension: ext}
	}
	if err != nil {
		return nil, &DecodeError{Kind: MalformedFile, Extension: ext, Cause: err}
	}

	rows, err := buildRows(records)
	if err != nil {
		return nil, &DecodeError{Kind: MalformedFile, Extension: ext, Cause: err}
	}
	return rows, nil
}

func buildRows(records []sheetRecord) ([]RawRow, error) {
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	header := make([]string, len(records[0].cells))
	blank := true
	for i, h := range records[0].cells {
		name := CleanCell(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		} else {
			blank = false
		}
		header[i] = name
	}
	if blank {
		return nil, ErrEmptyFile
	}

	// The instruction row is the physical row under the header. Blank
	// lines never reach records from CSV, so match it by line number.
	instructionLine := records[0].line + 1

	rows := make([]RawRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if rec.line == instructionLine {
			continue
		}
		values := make([]any, len(header))
		for i := range header {
			if i < len(rec.cells) {
				values[i] = rec.cells[i]
			} else {
				values[i] = ""
			}
		}
		row := RawRow{Line: rec.line, Columns: header, Values: values}
		if row.IsBlank() {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readCSV(data []byte) ([]sheetRecord, error) {
	data = sanitizeUTF8(bytes.TrimPrefix(data, utf8BOM))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records []sheetRecord
	for {
		cells, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := r.FieldPos(0)
		records = append(records, sheetRecord{line: line, cells: cells})
	}
	return records, nil
}

func readXLSX(data []byte) ([]sheetRecord, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	records := make([]sheetRecord, 0, len(rows))
	for i, cells := range rows {
		records = append(records, sheetRecord{line: i + 1, cells: cells})
	}
	return trimLeadingBlank(records), nil
}

// readXLS reads the first sheet of a legacy BIFF workbook. The parser
// panics on some corrupt inputs, so panics are reported as errors.
func readXLS(data []byte) (records []sheetRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = fmt.Errorf("read xls: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	if wb.NumSheets() == 0 {
		return nil, ErrEmptyFile
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, ErrEmptyFile
	}

	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheetRow(sheet, i)
		if row == nil {
			records = append(records, sheetRecord{line: i + 1})
			continue
		}
		cells := make([]string, 0, row.LastCol())
		for c := 0; c < row.LastCol(); c++ {
			cells = append(cells, row.Col(c))
		}
		records = append(records, sheetRecord{line: i + 1, cells: cells})
	}
	return trimLeadingBlank(records), nil
}

// sheetRow returns row i of sheet, or nil when the sheet stores nothing
// for it. WorkSheet.Row dereferences missing rows instead of returning nil.
func sheetRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

// trimLeadingBlank drops spreadsheet rows before the header so an empty
// workbook reports ErrEmptyFile instead of an all-blank header.
func trimLeadingBlank(records []sheetRecord) []sheetRecord {
	for len(records) > 0 && isEmptyRow(records[0].cells) {
		records = records[1:]
	}
	return records
}

func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('\uFFFD')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
