package core

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Template formats.
const (
	TemplateCSV  = "csv"
	TemplateXLSX = "xlsx"
)

// GenerateTemplate renders an import scaffold for def: field names, one
// instruction row, then example rows when includeExample is set.
func GenerateTemplate(def EntityDefinition, format string, includeExample bool) ([]byte, error) {
	rows := templateRows(def, includeExample)

	switch NormalizeTemplateFormat(format) {
	case TemplateCSV:
		return writeCSVTemplate(rows)
	case TemplateXLSX:
		return writeXLSXTemplate(def.Info.Label, rows)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTemplateFormat, format)
	}
}

// TemplateFilename returns the download name for an entity template.
func TemplateFilename(def EntityDefinition, format string) string {
	return fmt.Sprintf("%s_import_template.%s", def.Info.Key, NormalizeTemplateFormat(format))
}

// NormalizeTemplateFormat lowercases format and strips a leading dot.
// Empty means csv.
func NormalizeTemplateFormat(format string) string {
	format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if format == "" {
		return TemplateCSV
	}
	return format
}

func templateRows(def EntityDefinition, includeExample bool) [][]string {
	header := make([]string, len(def.FieldSpecs))
	instructions := make([]string, len(def.FieldSpecs))
	for i, spec := range def.FieldSpecs {
		header[i] = spec.Name
		instructions[i] = fieldInstruction(spec)
	}

	rows := [][]string{header, instructions}
	if !includeExample {
		return rows
	}

	if len(def.Examples) > 0 {
		for _, ex := range def.Examples {
			row := make([]string, len(header))
			copy(row, ex)
			rows = append(rows, row)
		}
		return rows
	}

	example := make([]string, len(def.FieldSpecs))
	for i, spec := range def.FieldSpecs {
		example[i] = spec.Example
	}
	return append(rows, example)
}

// fieldInstruction describes one column for the instruction row.
func fieldInstruction(spec FieldSpec) string {
	parts := []string{"Optional"}
	if spec.Required {
		parts[0] = "Required"
	}

	switch spec.Type {
	case FieldEmail:
		parts = append(parts, "email address")
	case FieldDate:
		parts = append(parts, "date (YYYY-MM-DD)")
	case FieldNumeric:
		parts = append(parts, "number")
	case FieldBool:
		parts = append(parts, "yes/no")
	case FieldEnum:
		parts = append(parts, "one of: "+strings.Join(spec.EnumValues, ", "))
	default:
		parts = append(parts, fieldTypeName(spec.Type))
	}

	if spec.NotFuture {
		parts = append(parts, "not in the future")
	}
	if spec.Hint != "" {
		parts = append(parts, spec.Hint)
	}
	return strings.Join(parts, "; ")
}

func writeCSVTemplate(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write csv template: %w", err)
	}
	return buf.Bytes(), nil
}

func writeXLSXTemplate(sheetName string, rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if sheetName == "" {
		sheetName = "Import"
	}
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	if len(rows) > 0 && len(rows[0]) > 0 {
		last, err := excelize.ColumnNumberToName(len(rows[0]))
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheetName, "A", last, 24); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx template: %w", err)
	}
	return buf.Bytes(), nil
}
