package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/auditconverge/introspect"
	"github.com/ridoystarlord/auditconverge/schema"
)

func errorTypes(r *ValidationResult) []string {
	var out []string
	for _, e := range r.Errors {
		out = append(out, e.Type)
	}
	return out
}

func TestAuditTargetIsValid(t *testing.T) {
	target := schema.AuditTarget()
	target.Seeds = append(target.Seeds, schema.FrameworkMappingSeed())
	result := ValidateTarget(target)
	assert.True(t, result.Valid, "unexpected errors: %v", result.Errors)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "non_constant_default", result.Warnings[0].Type)
	assert.Equal(t, "created_at", result.Warnings[0].Column)
}

func TestValidateTargetReportsErrors(t *testing.T) {
	target := schema.Target{
		Tables: []schema.TableSpec{
			{
				Name: "order",
				Columns: []schema.ColumnSpec{
					{Name: "id", Type: "uuid"},
					{Name: "notes", Type: schema.Text, NotNull: true},
					{Name: "notes", Type: schema.Text},
					{Name: "ref", Type: schema.Integer, ForeignKey: &schema.ForeignKey{ReferencesTable: "ghost", ReferencesColumn: "id"}},
				},
			},
		},
		Views: []schema.ViewSpec{
			{Name: "v", Query: "DELETE FROM x", DependsOn: []string{"missing"}},
		},
		Backfills: []schema.BackfillRule{
			{Name: "b", Table: "order", Column: "nope", Expression: "1"},
		},
		Seeds: []schema.SeedRule{
			{Name: "s", Table: "order", Columns: []string{"notes"}, ConflictColumn: "notes", Rows: [][]any{{"a", "b"}}},
		},
	}

	result := ValidateTarget(target)
	assert.False(t, result.Valid)
	types := errorTypes(result)
	for _, want := range []string{
		"table_name",
		"data_type",
		"not_null_without_default",
		"duplicate_column",
		"foreign_key_table_not_found",
		"view_query",
		"view_dependency_not_found",
		"backfill_column_not_found",
		"backfill_predicate",
		"seed_conflict_column",
		"seed_row",
	} {
		assert.Contains(t, types, want)
	}

	var warned bool
	for _, w := range result.Warnings {
		if w.Type == "no_primary_key" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestValidateWithSnapshot(t *testing.T) {
	target := schema.Target{
		Tables: []schema.TableSpec{{
			Name: "audit_responses",
			Columns: []schema.ColumnSpec{
				{Name: "id", Type: schema.Integer, AutoIncrement: true},
				{Name: "response_score", Type: schema.Integer},
			},
			PrimaryKey: []string{"id"},
		}},
	}
	snap := &introspect.Snapshot{
		Tables: map[string]introspect.ExistingTable{
			"audit_responses": {
				TableName: "audit_responses",
				Columns: []introspect.ExistingColumn{
					{ColumnName: "id", DataType: "INTEGER"},
					{ColumnName: "response_score", DataType: "TEXT"},
					{ColumnName: "legacy", DataType: "TEXT"},
				},
			},
		},
		Views: map[string]string{},
	}

	result := ValidateWithSnapshot(target, snap)
	assert.True(t, result.Valid)
	require.Len(t, result.Info, 1)
	assert.Equal(t, "table_exists", result.Info[0].Type)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "type_mismatch", result.Warnings[0].Type)
	assert.Equal(t, "response_score", result.Warnings[0].Column)
}

func TestTypeMatches(t *testing.T) {
	assert.True(t, typeMatches(schema.Integer, "bigint"))
	assert.True(t, typeMatches(schema.Real, "double precision"))
	assert.True(t, typeMatches(schema.Timestamp, "timestamp without time zone"))
	assert.True(t, typeMatches(schema.Text, "character varying"))
	assert.True(t, typeMatches(schema.Text, ""))
	assert.False(t, typeMatches(schema.Integer, "TEXT"))
}
