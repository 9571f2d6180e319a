package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/auditconverge/schema"
)

var (
	docsFormat string
	docsOutput string
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Generate documentation from the schema target",
	Long: `Generate an ERD diagram or a Markdown reference of the expected schema.

Supported formats:
  - mermaid: Mermaid ERD diagram
  - markdown: tables, views, backfills and seeds

Examples:
  auditconverge docs --format mermaid --output erd.md
  auditconverge docs --format markdown --output schema.md
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := loadTarget()
		if err != nil {
			return err
		}
		if len(target.Tables) == 0 {
			return fmt.Errorf("no tables found in schema")
		}

		var content, output string
		switch docsFormat {
		case "mermaid":
			content, output = generateMermaidContent(target), "erd.md"
		case "markdown":
			content, output = generateMarkdownContent(target), "schema.md"
		default:
			return fmt.Errorf("unsupported format %q (supported: mermaid, markdown)", docsFormat)
		}
		if docsOutput != "" {
			output = docsOutput
		}

		if err := os.WriteFile(output, []byte(content), 0644); err != nil {
			return fmt.Errorf("error writing %s: %w", output, err)
		}
		fmt.Printf("✅ %s documentation saved to: %s\n", docsFormat, output)
		return nil
	},
}

func init() {
	docsCmd.Flags().StringVarP(&docsFormat, "format", "f", "mermaid", "Output format (mermaid, markdown)")
	docsCmd.Flags().StringVarP(&docsOutput, "output", "o", "", "Output file (default: format-specific filename)")
}

func generateMermaidContent(target schema.Target) string {
	var content strings.Builder

	content.WriteString("# " + target.Name + " ERD\n\n")
	content.WriteString("```mermaid\nerDiagram\n")

	for _, tbl := range target.Tables {
		content.WriteString(fmt.Sprintf("    %s {\n", tbl.Name))
		for _, col := range tbl.Columns {
			line := fmt.Sprintf("        %s %s", strings.ToUpper(string(col.Type)), col.Name)
			switch {
			case tbl.IsPrimaryKey(col.Name):
				line += " PK"
			case col.ForeignKey != nil:
				line += " FK"
			case col.Unique:
				line += " UK"
			}
			content.WriteString(line + "\n")
		}
		content.WriteString("    }\n")
	}

	for _, tbl := range target.Tables {
		for _, col := range tbl.Columns {
			if col.ForeignKey != nil {
				content.WriteString(fmt.Sprintf("    %s ||--o{ %s : %s\n",
					col.ForeignKey.ReferencesTable,
					tbl.Name,
					col.Name))
			}
		}
	}

	content.WriteString("```\n")
	return content.String()
}

func generateMarkdownContent(target schema.Target) string {
	var content strings.Builder

	content.WriteString("# " + target.Name + " schema\n")

	for _, tbl := range target.Tables {
		content.WriteString("\n## " + tbl.Name + "\n\n")
		if tbl.Disposable {
			content.WriteString("Disposable: may be reset with `auditconverge reset " + tbl.Name + "`.\n\n")
		}
		content.WriteString("| Column | Type | Constraints | Default |\n")
		content.WriteString("|--------|------|-------------|---------|\n")
		for _, col := range tbl.Columns {
			var constraints []string
			if tbl.IsPrimaryKey(col.Name) {
				constraints = append(constraints, "PK")
			}
			if col.NotNull {
				constraints = append(constraints, "NOT NULL")
			}
			if col.Unique {
				constraints = append(constraints, "UNIQUE")
			}
			if col.ForeignKey != nil {
				constraints = append(constraints, fmt.Sprintf("→ %s.%s", col.ForeignKey.ReferencesTable, col.ForeignKey.ReferencesColumn))
			}
			def := ""
			if col.Default != nil {
				def = "`" + *col.Default + "`"
			}
			content.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n", col.Name, col.Type, strings.Join(constraints, ", "), def))
		}
	}

	if len(target.Views) > 0 {
		content.WriteString("\n## Views\n")
		for _, v := range target.Views {
			content.WriteString(fmt.Sprintf("\n### %s\n\nReads: %s\n\n```sql\n%s\n```\n", v.Name, strings.Join(v.DependsOn, ", "), v.Query))
		}
	}

	if len(target.Backfills) > 0 {
		content.WriteString("\n## Backfills\n\n")
		for _, b := range target.Backfills {
			content.WriteString(fmt.Sprintf("- **%s**: sets `%s.%s` where `%s`\n", b.Name, b.Table, b.Column, b.Predicate))
		}
	}

	if len(target.Seeds) > 0 {
		content.WriteString("\n## Seeds\n\n")
		for _, s := range target.Seeds {
			content.WriteString(fmt.Sprintf("- **%s**: %d rows into `%s`, keyed by `%s`\n", s.Name, len(s.Rows), s.Table, s.ConflictColumn))
		}
	}

	return content.String()
}
