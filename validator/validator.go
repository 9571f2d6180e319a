package validator

import (
	"fmt"
	"strings"

	"github.com/ridoystarlord/auditconverge/introspect"
	"github.com/ridoystarlord/auditconverge/schema"
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Type     string `json:"type"`
	Table    string `json:"table,omitempty"`
	Column   string `json:"column,omitempty"`
	Item     string `json:"item,omitempty"` // view, backfill or seed name
	Message  string `json:"message"`
	Severity string `json:"severity"` // "error", "warning", "info"
}

// ValidationResult contains all validation results
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
	Info     []ValidationError `json:"info"`
}

func newResult() *ValidationResult {
	return &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
		Info:     []ValidationError{},
	}
}

func (r *ValidationResult) addError(e ValidationError) {
	e.Severity = "error"
	r.Errors = append(r.Errors, e)
}

func (r *ValidationResult) addWarning(e ValidationError) {
	e.Severity = "warning"
	r.Warnings = append(r.Warnings, e)
}

func (r *ValidationResult) addInfo(e ValidationError) {
	e.Severity = "info"
	r.Info = append(r.Info, e)
}

// ValidateTarget checks a target without touching a database.
func ValidateTarget(target schema.Target) *ValidationResult {
	result := newResult()

	tables := map[string]schema.TableSpec{}
	for _, tbl := range target.Tables {
		if _, dup := tables[tbl.Name]; dup {
			result.addError(ValidationError{
				Type:    "duplicate_table",
				Table:   tbl.Name,
				Message: fmt.Sprintf("Table '%s' is declared more than once", tbl.Name),
			})
			continue
		}
		tables[tbl.Name] = tbl

		if err := validateIdentifier("table", tbl.Name); err != nil {
			result.addError(ValidationError{Type: "table_name", Table: tbl.Name, Message: err.Error()})
		}
		validateColumns(tbl, result)
	}

	validateCrossTableConstraints(target.Tables, tables, result)
	validateViews(target, tables, result)
	validateBackfills(target, tables, result)
	validateSeeds(target, tables, result)

	result.Valid = len(result.Errors) == 0
	return result
}

// ValidateWithSnapshot adds what can only be known against a live catalog:
// which tables already exist and columns whose stored type differs.
func ValidateWithSnapshot(target schema.Target, snap *introspect.Snapshot) *ValidationResult {
	result := ValidateTarget(target)

	for _, tbl := range target.Tables {
		existing, ok := snap.Tables[tbl.Name]
		if !ok {
			continue
		}
		result.addInfo(ValidationError{
			Type:    "table_exists",
			Table:   tbl.Name,
			Message: fmt.Sprintf("Table '%s' already exists in database", tbl.Name),
		})
		for _, ec := range existing.Columns {
			col, ok := tbl.Column(ec.ColumnName)
			if !ok {
				continue
			}
			if !typeMatches(col.Type, ec.DataType) {
				result.addWarning(ValidationError{
					Type:    "type_mismatch",
					Table:   tbl.Name,
					Column:  col.Name,
					Message: fmt.Sprintf("Column '%s.%s' is stored as %s but declared %s; existing columns are never retyped", tbl.Name, col.Name, ec.DataType, col.Type),
				})
			}
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// validateIdentifier validates name format
func validateIdentifier(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}

	if len(name) > 63 {
		return fmt.Errorf("%s name '%s' is too long (max 63 characters)", kind, name)
	}

	for _, char := range name {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '_') {
			return fmt.Errorf("%s name '%s' contains invalid character '%c'", kind, name, char)
		}
	}

	reservedKeywords := []string{"user", "order", "group", "table", "index", "view", "schema", "select"}
	for _, keyword := range reservedKeywords {
		if strings.ToLower(name) == keyword {
			return fmt.Errorf("%s name '%s' is a reserved keyword", kind, name)
		}
	}

	return nil
}

func validateColumns(tbl schema.TableSpec, result *ValidationResult) {
	if len(tbl.Columns) == 0 {
		result.addError(ValidationError{
			Type:    "no_columns",
			Table:   tbl.Name,
			Message: fmt.Sprintf("Table '%s' must have at least one column", tbl.Name),
		})
		return
	}

	columnNames := make(map[string]bool)
	for _, column := range tbl.Columns {
		if columnNames[column.Name] {
			result.addError(ValidationError{
				Type:    "duplicate_column",
				Table:   tbl.Name,
				Column:  column.Name,
				Message: fmt.Sprintf("Duplicate column name '%s' in table '%s'", column.Name, tbl.Name),
			})
			continue
		}
		columnNames[column.Name] = true

		if err := validateIdentifier("column", column.Name); err != nil {
			result.addError(ValidationError{Type: "column_name", Table: tbl.Name, Column: column.Name, Message: err.Error()})
		}

		switch column.Type {
		case schema.Text, schema.Integer, schema.Real, schema.Timestamp:
		default:
			result.addError(ValidationError{
				Type:    "data_type",
				Table:   tbl.Name,
				Column:  column.Name,
				Message: fmt.Sprintf("unsupported data type '%s' (want text, integer, real or timestamp)", column.Type),
			})
		}

		// Rows that predate the column would violate NOT NULL.
		if column.NotNull && !tbl.IsPrimaryKey(column.Name) && column.Default == nil {
			result.addError(ValidationError{
				Type:    "not_null_without_default",
				Table:   tbl.Name,
				Column:  column.Name,
				Message: fmt.Sprintf("Column '%s' is NOT NULL without a default and cannot be added to a populated table", column.Name),
			})
		}

		if column.Default != nil {
			if err := validateDefaultValue(column.Type, *column.Default); err != nil {
				result.addWarning(ValidationError{Type: "default_value", Table: tbl.Name, Column: column.Name, Message: err.Error()})
			}
			if !schema.IsConstantDefault(*column.Default) {
				result.addWarning(ValidationError{
					Type:    "non_constant_default",
					Table:   tbl.Name,
					Column:  column.Name,
					Message: fmt.Sprintf("Default %s is applied on CREATE TABLE only; it is omitted when the column is added later", *column.Default),
				})
			}
		}

		if column.AutoIncrement && !(len(tbl.PrimaryKey) == 1 && tbl.IsPrimaryKey(column.Name)) {
			result.addError(ValidationError{
				Type:    "auto_increment",
				Table:   tbl.Name,
				Column:  column.Name,
				Message: "auto-increment is only supported on a single-column primary key",
			})
		}

		if column.ForeignKey != nil {
			if err := validateForeignKeyDefinition(column, tbl.Name); err != nil {
				result.addError(ValidationError{Type: "foreign_key", Table: tbl.Name, Column: column.Name, Message: err.Error()})
			}
		}
	}

	for _, pk := range tbl.PrimaryKey {
		if !columnNames[pk] {
			result.addError(ValidationError{
				Type:    "primary_key_column_not_found",
				Table:   tbl.Name,
				Column:  pk,
				Message: fmt.Sprintf("Primary key column '%s' is not declared in table '%s'", pk, tbl.Name),
			})
		}
	}
	if len(tbl.PrimaryKey) == 0 {
		result.addWarning(ValidationError{
			Type:    "no_primary_key",
			Table:   tbl.Name,
			Message: fmt.Sprintf("Table '%s' has no primary key defined", tbl.Name),
		})
	}
}

// validateDefaultValue validates default value against data type
func validateDefaultValue(dataType schema.ColumnType, defaultValue string) error {
	switch dataType {
	case schema.Integer:
		if !strings.Contains(defaultValue, "(") && !strings.Contains(defaultValue, "'") && strings.Contains(defaultValue, ".") {
			return fmt.Errorf("integer type cannot have decimal default value '%s'", defaultValue)
		}
	case schema.Text:
		if strings.EqualFold(defaultValue, "NULL") {
			return nil
		}
		if !strings.Contains(defaultValue, "(") && !strings.HasPrefix(defaultValue, "'") {
			return fmt.Errorf("string type should have quoted default value '%s'", defaultValue)
		}
	}
	return nil
}

// validateForeignKeyDefinition validates foreign key definition
func validateForeignKeyDefinition(column schema.ColumnSpec, tableName string) error {
	fk := column.ForeignKey

	if fk.ReferencesTable == "" {
		return fmt.Errorf("foreign key references table cannot be empty")
	}

	if fk.ReferencesColumn == "" {
		return fmt.Errorf("foreign key references column cannot be empty")
	}

	if fk.ReferencesTable == tableName && fk.ReferencesColumn == column.Name {
		return fmt.Errorf("foreign key cannot reference itself")
	}

	validActions := []string{"CASCADE", "SET NULL", "SET DEFAULT", "RESTRICT", "NO ACTION"}
	if fk.OnDelete != "" {
		isValid := false
		for _, action := range validActions {
			if strings.ToUpper(fk.OnDelete) == action {
				isValid = true
				break
			}
		}
		if !isValid {
			return fmt.Errorf("invalid onDelete action '%s', must be one of: %v", fk.OnDelete, validActions)
		}
	}

	return nil
}

// validateCrossTableConstraints validates foreign key targets across tables
func validateCrossTableConstraints(specs []schema.TableSpec, tables map[string]schema.TableSpec, result *ValidationResult) {
	for _, tbl := range specs {
		for _, column := range tbl.Columns {
			fk := column.ForeignKey
			if fk == nil {
				continue
			}
			ref, exists := tables[fk.ReferencesTable]
			if !exists {
				result.addError(ValidationError{
					Type:    "foreign_key_table_not_found",
					Table:   tbl.Name,
					Column:  column.Name,
					Message: fmt.Sprintf("Foreign key references non-existent table '%s'", fk.ReferencesTable),
				})
				continue
			}
			if _, ok := ref.Column(fk.ReferencesColumn); !ok {
				result.addError(ValidationError{
					Type:    "foreign_key_column_not_found",
					Table:   tbl.Name,
					Column:  column.Name,
					Message: fmt.Sprintf("Foreign key references non-existent column '%s' in table '%s'", fk.ReferencesColumn, fk.ReferencesTable),
				})
			}
		}
	}
}

func validateViews(target schema.Target, tables map[string]schema.TableSpec, result *ValidationResult) {
	for _, view := range target.Views {
		if err := validateIdentifier("view", view.Name); err != nil {
			result.addError(ValidationError{Type: "view_name", Item: view.Name, Message: err.Error()})
		}
		if _, clash := tables[view.Name]; clash {
			result.addError(ValidationError{
				Type:    "view_name",
				Item:    view.Name,
				Message: fmt.Sprintf("View '%s' has the same name as a table", view.Name),
			})
		}
		if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(view.Query)), "SELECT") {
			result.addError(ValidationError{
				Type:    "view_query",
				Item:    view.Name,
				Message: fmt.Sprintf("View '%s' query must be a SELECT statement", view.Name),
			})
		}
		if len(view.DependsOn) == 0 {
			result.addWarning(ValidationError{
				Type:    "view_dependencies",
				Item:    view.Name,
				Message: fmt.Sprintf("View '%s' declares no table dependencies", view.Name),
			})
		}
		for _, dep := range view.DependsOn {
			if _, ok := tables[dep]; !ok {
				result.addError(ValidationError{
					Type:    "view_dependency_not_found",
					Table:   dep,
					Item:    view.Name,
					Message: fmt.Sprintf("View '%s' depends on table '%s', which the target does not declare", view.Name, dep),
				})
			}
		}
	}
}

func validateBackfills(target schema.Target, tables map[string]schema.TableSpec, result *ValidationResult) {
	for _, rule := range target.Backfills {
		tbl, ok := tables[rule.Table]
		if !ok {
			result.addError(ValidationError{
				Type:    "backfill_table_not_found",
				Table:   rule.Table,
				Item:    rule.Name,
				Message: fmt.Sprintf("Backfill '%s' targets undeclared table '%s'", rule.Name, rule.Table),
			})
			continue
		}
		if _, ok := tbl.Column(rule.Column); !ok {
			result.addError(ValidationError{
				Type:    "backfill_column_not_found",
				Table:   rule.Table,
				Column:  rule.Column,
				Item:    rule.Name,
				Message: fmt.Sprintf("Backfill '%s' targets undeclared column '%s.%s'", rule.Name, rule.Table, rule.Column),
			})
		}
		if strings.TrimSpace(rule.Expression) == "" {
			result.addError(ValidationError{Type: "backfill_expression", Item: rule.Name, Message: fmt.Sprintf("Backfill '%s' has no expression", rule.Name)})
		}
		// Without a predicate every run rewrites every row.
		if strings.TrimSpace(rule.Predicate) == "" {
			result.addError(ValidationError{
				Type:    "backfill_predicate",
				Item:    rule.Name,
				Message: fmt.Sprintf("Backfill '%s' needs a predicate that excludes rows already backfilled", rule.Name),
			})
		}
	}
}

func validateSeeds(target schema.Target, tables map[string]schema.TableSpec, result *ValidationResult) {
	for _, seed := range target.Seeds {
		tbl, ok := tables[seed.Table]
		if !ok {
			result.addError(ValidationError{
				Type:    "seed_table_not_found",
				Table:   seed.Table,
				Item:    seed.Name,
				Message: fmt.Sprintf("Seed '%s' targets undeclared table '%s'", seed.Name, seed.Table),
			})
			continue
		}
		for _, c := range seed.Columns {
			if _, ok := tbl.Column(c); !ok {
				result.addError(ValidationError{
					Type:    "seed_column_not_found",
					Table:   seed.Table,
					Column:  c,
					Item:    seed.Name,
					Message: fmt.Sprintf("Seed '%s' writes undeclared column '%s'", seed.Name, c),
				})
			}
		}
		col, ok := tbl.Column(seed.ConflictColumn)
		if !ok || !(col.Unique || (len(tbl.PrimaryKey) == 1 && tbl.IsPrimaryKey(seed.ConflictColumn))) {
			result.addError(ValidationError{
				Type:    "seed_conflict_column",
				Table:   seed.Table,
				Column:  seed.ConflictColumn,
				Item:    seed.Name,
				Message: fmt.Sprintf("Seed '%s' conflict column '%s' must be unique or the primary key", seed.Name, seed.ConflictColumn),
			})
		}
		for i, row := range seed.Rows {
			if len(row) != len(seed.Columns) {
				result.addError(ValidationError{
					Type:    "seed_row",
					Table:   seed.Table,
					Item:    seed.Name,
					Message: fmt.Sprintf("Seed '%s' row %d has %d values for %d columns", seed.Name, i+1, len(row), len(seed.Columns)),
				})
			}
		}
	}
}

func typeMatches(declared schema.ColumnType, stored string) bool {
	stored = strings.ToLower(stored)
	if stored == "" {
		return true
	}
	switch declared {
	case schema.Integer:
		return strings.Contains(stored, "int")
	case schema.Real:
		return strings.Contains(stored, "real") || strings.Contains(stored, "double") || strings.Contains(stored, "float") || strings.Contains(stored, "numeric")
	case schema.Timestamp:
		return strings.Contains(stored, "timestamp") || strings.Contains(stored, "date")
	default:
		return strings.Contains(stored, "text") || strings.Contains(stored, "char")
	}
}
