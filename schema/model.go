package schema

import "strings"

// ColumnType is one of the portable column types understood by every dialect.
type ColumnType string

const (
	Text      ColumnType = "text"
	Integer   ColumnType = "integer"
	Real      ColumnType = "real"
	Timestamp ColumnType = "timestamp"
)

// Target is the declared end state a database is converged towards.
type Target struct {
	Name      string
	Tables    []TableSpec
	Views     []ViewSpec
	Backfills []BackfillRule
	Seeds     []SeedRule
}

type TableSpec struct {
	Name       string
	Columns    []ColumnSpec
	PrimaryKey []string
	// Disposable tables hold no operator data and may be dropped by ResetTable.
	Disposable bool
}

type ColumnSpec struct {
	Name          string
	Type          ColumnType
	NotNull       bool
	Unique        bool
	AutoIncrement bool
	// Default is a raw SQL literal or expression, e.g. "'%'" or "CURRENT_TIMESTAMP".
	Default    *string
	ForeignKey *ForeignKey
}

type ForeignKey struct {
	ReferencesTable  string
	ReferencesColumn string
	OnDelete         string // CASCADE, SET NULL, RESTRICT, etc.
}

type ViewSpec struct {
	Name      string
	Query     string
	DependsOn []string
}

// BackfillRule derives a column's value for rows matching Predicate.
// Predicate must exclude rows the rule already handled so re-running is a no-op.
type BackfillRule struct {
	Name       string
	Table      string
	Column     string
	Expression string
	Predicate  string
	// RequiresColumns lists source columns that must exist for the rule to apply.
	RequiresColumns []string
}

// SeedRule inserts lookup rows that are missing, keyed by ConflictColumn.
type SeedRule struct {
	Name           string
	Table          string
	Columns        []string
	ConflictColumn string
	Rows           [][]any
}

func (t Target) Table(name string) (TableSpec, bool) {
	for _, tbl := range t.Tables {
		if tbl.Name == name {
			return tbl, true
		}
	}
	return TableSpec{}, false
}

func (t TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// IsPrimaryKey reports whether column is part of the table's primary key.
func (t TableSpec) IsPrimaryKey(column string) bool {
	for _, pk := range t.PrimaryKey {
		if pk == column {
			return true
		}
	}
	return false
}

// IsConstantDefault reports whether a default can be used when adding a column
// to a table that already has rows. SQLite rejects time functions there.
func IsConstantDefault(def string) bool {
	switch strings.ToUpper(strings.TrimSpace(def)) {
	case "CURRENT_TIMESTAMP", "CURRENT_DATE", "CURRENT_TIME":
		return false
	}
	return !strings.Contains(def, "(")
}

func Default(literal string) *string {
	return &literal
}
