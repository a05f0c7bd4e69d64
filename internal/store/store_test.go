package store

import (
	"testing"

	"github.com/JonMunkholm/importer/internal/core"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"email", `"email"`},
		{"birth_date", `"birth_date"`},
		{`weird"name`, `"weird""name"`},
		{`"; DROP TABLE members; --`, `"""; DROP TABLE members; --"`},
		{"", `""`},
	}

	for _, tt := range tests {
		if got := QuoteIdentifier(tt.input); got != tt.want {
			t.Errorf("QuoteIdentifier(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestBuildStatements(t *testing.T) {
	def := core.EntityDefinition{
		Info: core.EntityInfo{Key: "members", UniqueKey: "email", Columns: []string{"email", "name"}},
	}

	got, err := BuildStatements(def, QuestionPlaceholder)
	if err != nil {
		t.Fatalf("BuildStatements failed: %v", err)
	}

	want := Statements{
		Insert: `INSERT INTO "members" ("email", "name", "created_by") VALUES (?, ?, ?)`,
		Select: `SELECT "email", "name" FROM "members" WHERE "email" = ?`,
		Update: `UPDATE "members" SET "email" = ?, "name" = ?, "updated_at" = CURRENT_TIMESTAMP WHERE "email" = ?`,
	}
	if got != want {
		t.Errorf("BuildStatements =\n%+v\nwant\n%+v", got, want)
	}

	pg, err := BuildStatements(def, DollarPlaceholder)
	if err != nil {
		t.Fatalf("BuildStatements failed: %v", err)
	}
	if want := `UPDATE "members" SET "email" = $1, "name" = $2, "updated_at" = CURRENT_TIMESTAMP WHERE "email" = $3`; pg.Update != want {
		t.Errorf("Update = %s, want %s", pg.Update, want)
	}
}

func TestBuildStatements_NoUniqueKey(t *testing.T) {
	def := core.EntityDefinition{Info: core.EntityInfo{Key: "notes", Columns: []string{"body"}}}
	if _, err := BuildStatements(def, QuestionPlaceholder); err == nil {
		t.Error("BuildStatements without unique key succeeded")
	}
}

func TestNullableActor(t *testing.T) {
	if got := NullableActor(""); got != nil {
		t.Errorf("NullableActor(\"\") = %v, want nil", got)
	}
	if got := NullableActor("a1"); got != "a1" {
		t.Errorf("NullableActor(a1) = %v", got)
	}
}
