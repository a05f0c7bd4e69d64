package core

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"
)

// FieldType represents the expected data type for an import column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEmail
	FieldEnum
	FieldDate
	FieldNumeric
	FieldBool
)

// FieldSpec defines validation rules for a single import column.
type FieldSpec struct {
	Name       string              // Column header name (matched case-insensitively)
	Type       FieldType           // Expected data type
	Required   bool                // Value must be present and non-blank
	EnumValues []string            // Valid values for FieldEnum type
	NotFuture  bool                // FieldDate values must not be after today
	Hint       string              // Extra instruction text for the template row
	Example    string              // Example value for template example rows
	Normalizer func(string) string // Optional transformation applied before validation
}

// EntityInfo contains display and storage information about an importable entity.
type EntityInfo struct {
	Key       string   // Unique identifier: "members"
	Label     string   // Display name: "Members"
	Table     string   // Backing table for SQL record stores
	Columns   []string // Header column names, derived from FieldSpecs when empty
	UniqueKey string   // Natural key column used for duplicate detection
}

// RuleFunc applies cross-field business rules to a cleaned record.
// It returns additional field errors; it must not mutate the record.
type RuleFunc func(rec Record) []FieldError

// EntityDefinition contains everything needed to import one entity type.
type EntityDefinition struct {
	Info       EntityInfo
	FieldSpecs []FieldSpec
	Rules      []RuleFunc
	Examples   [][]string // Example rows for templates, in FieldSpecs order
}

// Spec returns the field spec with the given name.
func (d EntityDefinition) Spec(name string) (FieldSpec, bool) {
	for _, spec := range d.FieldSpecs {
		if strings.EqualFold(spec.Name, name) {
			return spec, true
		}
	}
	return FieldSpec{}, false
}

// RawRow is one decoded line: an ordered mapping of column name to an
// untyped scalar. Line is the 1-based position in the original file.
type RawRow struct {
	Line    int
	Columns []string
	Values  []any
}

// Get returns the value for a column, matched case-insensitively.
func (r RawRow) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if strings.EqualFold(c, column) {
			if i >= len(r.Values) {
				return nil, false
			}
			return r.Values[i], true
		}
	}
	return nil, false
}

// Text returns the cleaned string form of a column value.
// Missing columns and nil values return "".
func (r RawRow) Text(column string) string {
	v, ok := r.Get(column)
	if !ok {
		return ""
	}
	return CleanCell(cellString(v))
}

// IsBlank reports whether every value in the row is empty.
func (r RawRow) IsBlank() bool {
	for _, v := range r.Values {
		if strings.TrimSpace(cellString(v)) != "" {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the row as a JSON object preserving column order.
func (r RawRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		var v any
		if i < len(r.Values) {
			v = r.Values[i]
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Record is a cleaned candidate record keyed by field name.
// Values are string, bool, float64 or time.Time; blank fields are absent.
type Record map[string]any

// ImportOptions is the caller-supplied duplicate and failure policy.
type ImportOptions struct {
	SkipDuplicates  bool `json:"skipDuplicates"`
	UpdateExisting  bool `json:"updateExisting"`
	ContinueOnError bool `json:"continueOnError"`
}

// RowStatus is the validation verdict for a row.
type RowStatus string

const (
	StatusValid     RowStatus = "valid"
	StatusWarning   RowStatus = "warning"
	StatusError     RowStatus = "error"
	StatusDuplicate RowStatus = "duplicate"
)

// RowAction is what execution will do with a row.
type RowAction string

const (
	ActionCreate RowAction = "create"
	ActionUpdate RowAction = "update"
	ActionSkip   RowAction = "skip"
)

// FieldError is a blocking, row-scoped validation failure.
type FieldError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Code     string `json:"code"`
	Severity string `json:"severity"`
}

// FieldWarning is an advisory, row-scoped finding that does not block the row.
type FieldWarning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// RowOutcome is the per-row verdict produced by validation.
type RowOutcome struct {
	RowNumber int            `json:"rowNumber"`
	Status    RowStatus      `json:"status"`
	Action    RowAction      `json:"action"`
	Data      Record         `json:"data"`
	Errors    []FieldError   `json:"errors"`
	Warnings  []FieldWarning `json:"warnings"`
}

// ImportSummary aggregates row outcomes over a validation pass.
type ImportSummary struct {
	ToCreate int `json:"toCreate"`
	ToUpdate int `json:"toUpdate"`
	ToSkip   int `json:"toSkip"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// Add folds one outcome into the summary.
func (s *ImportSummary) Add(o RowOutcome, opts ImportOptions) {
	switch o.Status {
	case StatusError:
		s.Errors++
		s.ToSkip++
	case StatusDuplicate:
		if opts.UpdateExisting {
			s.ToUpdate++
		} else {
			s.ToSkip++
		}
	case StatusWarning:
		s.Warnings++
		s.ToCreate++
	default:
		s.ToCreate++
	}
}

// ValidationSession is the stored result of validating an uploaded file.
type ValidationSession struct {
	ID        string
	EntityKey string
	Filename  string
	Options   ImportOptions
	Rows      []RawRow
	Outcomes  []RowOutcome
	Summary   ImportSummary
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is unusable at now.
func (s ValidationSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionSummary is the synchronous response to a file validation.
type SessionSummary struct {
	SessionID   string        `json:"sessionId"`
	EntityKey   string        `json:"entity"`
	Filename    string        `json:"filename"`
	TotalRows   int           `json:"totalRows"`
	ValidRows   int           `json:"validRows"`
	InvalidRows int           `json:"invalidRows"`
	Summary     ImportSummary `json:"summary"`
	Preview     []RowOutcome  `json:"preview"`
	ExpiresAt   time.Time     `json:"expiresAt"`
}

// RecordStore is the external collaborator that persists imported records.
type RecordStore interface {
	Create(ctx context.Context, rec Record) error
	FindByUniqueKey(ctx context.Context, value string) (Record, bool, error)
}

// RecordUpdater is implemented by stores that can overwrite an existing
// record matched by its unique key.
type RecordUpdater interface {
	Update(ctx context.Context, key string, rec Record) error
}
