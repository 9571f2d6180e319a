package schema

import (
	"fmt"
	"strings"
)

// Case maps one categorical source value to a SQL literal.
type Case struct {
	When string
	Then string
}

// Pattern maps a LIKE pattern to a label.
type Pattern struct {
	Like  string
	Label string
}

// MappedBackfill builds a rule that converts a categorical column into a
// derived value. Rows whose source value is not listed are left untouched,
// so they never match the predicate twice.
func MappedBackfill(name, table, column, source string, cases []Case) BackfillRule {
	var expr strings.Builder
	known := make([]string, 0, len(cases))
	fmt.Fprintf(&expr, "CASE %s", source)
	for _, c := range cases {
		fmt.Fprintf(&expr, " WHEN %s THEN %s", Quote(c.When), c.Then)
		known = append(known, Quote(c.When))
	}
	expr.WriteString(" ELSE NULL END")

	return BackfillRule{
		Name:            name,
		Table:           table,
		Column:          column,
		Expression:      expr.String(),
		Predicate:       fmt.Sprintf("%s IS NULL AND %s IN (%s)", column, source, strings.Join(known, ", ")),
		RequiresColumns: []string{source},
	}
}

// PatternCase renders a searched CASE expression over LIKE patterns. The first
// matching pattern wins and fallback is used when nothing matches.
func PatternCase(source string, patterns []Pattern, fallback string) string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, p := range patterns {
		fmt.Fprintf(&b, "\n        WHEN %s LIKE %s THEN %s", source, Quote(p.Like), Quote(p.Label))
	}
	fmt.Fprintf(&b, "\n        ELSE %s\n    END", Quote(fallback))
	return b.String()
}

// Quote renders s as a single-quoted SQL string literal.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
