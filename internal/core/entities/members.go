package entities

import (
	"github.com/JonMunkholm/importer/internal/core"
)

func init() {
	registerMembers()
}

func registerMembers() {
	core.Register(core.EntityDefinition{
		Info: core.EntityInfo{
			Key:       "members",
			Label:     "Members",
			Table:     "members",
			UniqueKey: "email",
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "email", Type: core.FieldEmail, Required: true, Normalizer: NormalizeEmail, Example: "ada@example.com"},
			{Name: "name", Type: core.FieldText, Required: true, Example: "Ada Lovelace"},
			{Name: "phone", Type: core.FieldText, Normalizer: NormalizePhone, Hint: "digits, optional leading +", Example: "+1 555 0100"},
			{Name: "role", Type: core.FieldEnum, EnumValues: []string{"admin", "editor", "viewer"}, Example: "editor"},
			{Name: "state", Type: core.FieldText, Normalizer: NormalizeUsState, Hint: "US state name or code", Example: "California"},
			{Name: "birth_date", Type: core.FieldDate, NotFuture: true, Example: "1990-12-10"},
			{Name: "active", Type: core.FieldBool, Example: "yes"},
		},
		Rules: []core.RuleFunc{adminNeedsPhone},
		Examples: [][]string{
			{"ada@example.com", "Ada Lovelace", "+1 555 0100", "admin", "California", "1990-12-10", "yes"},
			{"grace@example.com", "Grace Hopper", "", "viewer", "NY", "12/09/1986", "no"},
		},
	})
}

// adminNeedsPhone requires a contact number for administrators.
func adminNeedsPhone(rec core.Record) []core.FieldError {
	if rec["role"] != "admin" {
		return nil
	}
	if _, ok := rec["phone"]; ok {
		return nil
	}
	return []core.FieldError{{
		Field:    "phone",
		Message:  "phone is required for admin members",
		Code:     core.CodeRequiredField,
		Severity: core.SeverityError,
	}}
}
