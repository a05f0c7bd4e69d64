package entities

import (
	"github.com/JonMunkholm/importer/internal/core"
)

func init() {
	registerProducts()
}

func registerProducts() {
	core.Register(core.EntityDefinition{
		Info: core.EntityInfo{
			Key:       "products",
			Label:     "Products",
			Table:     "products",
			UniqueKey: "sku",
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "sku", Type: core.FieldText, Required: true, Normalizer: NormalizeSKU, Example: "SKU-1001"},
			{Name: "name", Type: core.FieldText, Required: true, Example: "Walnut Desk"},
			{Name: "category", Type: core.FieldEnum, Required: true, EnumValues: []string{"hardware", "software", "service"}, Example: "hardware"},
			{Name: "price", Type: core.FieldNumeric, Required: true, Example: "$1,249.00"},
			{Name: "launch_date", Type: core.FieldDate, Example: "2024-03-01"},
			{Name: "discontinued", Type: core.FieldBool, Example: "no"},
		},
		Rules: []core.RuleFunc{nonNegativePrice},
		Examples: [][]string{
			{"SKU-1001", "Walnut Desk", "hardware", "$1,249.00", "2024-03-01", "no"},
		},
	})
}

func nonNegativePrice(rec core.Record) []core.FieldError {
	price, ok := rec["price"].(float64)
	if !ok || price >= 0 {
		return nil
	}
	return []core.FieldError{{
		Field:    "price",
		Message:  "price must not be negative",
		Code:     core.CodeInvalidNumber,
		Severity: core.SeverityError,
	}}
}
