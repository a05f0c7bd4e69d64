package core

// validation.go classifies one decoded row against an entity definition.
//
// Checks run in a fixed order:
//  1. Required presence
//  2. Per-type format (email, date, enum, number)
//  3. Business rules (not-in-future dates, entity RuleFuncs)
//  4. Soft checks that only produce warnings (unrecognized booleans)
//  5. Duplicate lookup against the record store, only for error-free rows
//
// The outcome carries the cleaned record that execution will write.

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
)

// Field error codes.
const (
	CodeRequiredField  = "REQUIRED_FIELD"
	CodeInvalidEmail   = "INVALID_EMAIL"
	CodeInvalidDate    = "INVALID_DATE"
	CodeInvalidEnum    = "INVALID_ENUM"
	CodeInvalidNumber  = "INVALID_NUMBER"
	CodeFutureDate     = "FUTURE_DATE"
	CodeInvalidBoolean = "INVALID_BOOLEAN"
	CodeDuplicateKey   = "DUPLICATE_KEY"
)

// SeverityError is the severity of every FieldError.
const SeverityError = "error"

// RowValidator validates rows against an entity's field specifications.
type RowValidator struct {
	def    EntityDefinition
	store  RecordStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRowValidator creates a validator. store may be nil, in which case
// duplicate detection is skipped.
func NewRowValidator(def EntityDefinition, store RecordStore, logger *slog.Logger) *RowValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RowValidator{
		def:    def,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Validate classifies a single row. It never fails: lookup errors are
// logged and treated as "not found".
func (v *RowValidator) Validate(ctx context.Context, row RawRow, rowNumber int, opts ImportOptions) RowOutcome {
	out := RowOutcome{
		RowNumber: rowNumber,
		Data:      Record{},
		Errors:    []FieldError{},
		Warnings:  []FieldWarning{},
	}

	// Presence and format
	for _, spec := range v.def.FieldSpecs {
		raw := row.Text(spec.Name)
		if raw != "" && spec.Normalizer != nil {
			raw = spec.Normalizer(raw)
		}

		if raw == "" {
			if spec.Required {
				out.Errors = append(out.Errors, fieldError(spec.Name, CodeRequiredField, "%s is required", spec.Name))
			}
			continue
		}

		switch spec.Type {
		case FieldEmail:
			if !validEmail(raw) {
				out.Errors = append(out.Errors, fieldError(spec.Name, CodeInvalidEmail, "%q is not a valid email address", raw))
				continue
			}
			out.Data[spec.Name] = raw

		case FieldDate:
			t, ok := ParseDate(raw)
			if !ok {
				out.Errors = append(out.Errors, fieldError(spec.Name, CodeInvalidDate, "%q is not a valid date (use YYYY-MM-DD or similar)", raw))
				continue
			}
			out.Data[spec.Name] = t

		case FieldEnum:
			val, ok := matchEnum(raw, spec.EnumValues)
			if !ok {
				out.Errors = append(out.Errors, fieldError(spec.Name, CodeInvalidEnum, "%q must be one of: %s", raw, strings.Join(spec.EnumValues, ", ")))
				continue
			}
			out.Data[spec.Name] = val

		case FieldNumeric:
			n, ok := ParseNumber(raw)
			if !ok {
				out.Errors = append(out.Errors, fieldError(spec.Name, CodeInvalidNumber, "%q is not a valid number", raw))
				continue
			}
			out.Data[spec.Name] = n

		case FieldBool:
			b, recognized := ParseBool(raw)
			if !recognized {
				out.Warnings = append(out.Warnings, FieldWarning{
					Field:   spec.Name,
					Message: fmt.Sprintf("%q is not a recognized boolean, defaulting to true", raw),
					Code:    CodeInvalidBoolean,
				})
				b = true
			}
			out.Data[spec.Name] = b

		default:
			out.Data[spec.Name] = raw
		}
	}

	// Business rules
	today := truncateDay(v.now().UTC())
	for _, spec := range v.def.FieldSpecs {
		if spec.Type != FieldDate || !spec.NotFuture {
			continue
		}
		if t, ok := out.Data[spec.Name].(time.Time); ok && t.After(today) {
			out.Errors = append(out.Errors, fieldError(spec.Name, CodeFutureDate, "%s must not be in the future", spec.Name))
		}
	}
	for _, rule := range v.def.Rules {
		out.Errors = append(out.Errors, rule(out.Data)...)
	}

	duplicate := false
	if len(out.Errors) == 0 {
		duplicate = v.isDuplicate(ctx, out.Data)
		if duplicate && !opts.SkipDuplicates && !opts.UpdateExisting {
			key := v.def.Info.UniqueKey
			out.Errors = append(out.Errors, fieldError(key, CodeDuplicateKey, "a record with %s %q already exists", key, cellString(out.Data[key])))
		}
	}

	switch {
	case len(out.Errors) > 0:
		out.Status, out.Action = StatusError, ActionSkip
	case duplicate:
		out.Status = StatusDuplicate
		if opts.UpdateExisting {
			out.Action = ActionUpdate
		} else {
			out.Action = ActionSkip
		}
	case len(out.Warnings) > 0:
		out.Status, out.Action = StatusWarning, ActionCreate
	default:
		out.Status, out.Action = StatusValid, ActionCreate
	}

	return out
}

// isDuplicate looks up the unique key of rec in the store.
func (v *RowValidator) isDuplicate(ctx context.Context, rec Record) bool {
	key := v.def.Info.UniqueKey
	if key == "" || v.store == nil {
		return false
	}
	value := cellString(rec[key])
	if value == "" {
		return false
	}

	_, found, err := v.store.FindByUniqueKey(ctx, value)
	if err != nil {
		v.logger.Warn("duplicate lookup failed",
			"entity", v.def.Info.Key,
			"key", key,
			"error", err,
		)
		return false
	}
	return found
}

func fieldError(field, code, format string, args ...any) FieldError {
	return FieldError{
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
		Code:     code,
		Severity: SeverityError,
	}
}

// validEmail accepts a bare RFC 5322 address, rejecting display-name forms.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && strings.Contains(addr.Address, "@")
}

// matchEnum returns the canonical enum value matching s case-insensitively.
func matchEnum(s string, values []string) (string, bool) {
	for _, ev := range values {
		if strings.EqualFold(ev, s) {
			return ev, true
		}
	}
	return "", false
}

// fieldTypeName returns a human-readable name for a field type.
func fieldTypeName(ft FieldType) string {
	switch ft {
	case FieldText:
		return "text"
	case FieldEmail:
		return "email"
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldNumeric:
		return "numeric"
	case FieldBool:
		return "bool"
	default:
		return "value"
	}
}
