package loader

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ridoystarlord/auditconverge/schema"
)

type yamlFile struct {
	Name      string         `yaml:"name"`
	Tables    []yamlTable    `yaml:"tables,omitempty"`
	Views     []yamlView     `yaml:"views,omitempty"`
	Backfills []yamlBackfill `yaml:"backfills,omitempty"`
	Seeds     []yamlSeed     `yaml:"seeds,omitempty"`
}

type yamlTable struct {
	Name       string       `yaml:"name"`
	Columns    []yamlColumn `yaml:"columns"`
	PrimaryKey []string     `yaml:"primary_key,omitempty"`
	Disposable bool         `yaml:"disposable,omitempty"`
}

type yamlColumn struct {
	Name          string          `yaml:"name"`
	Type          string          `yaml:"type"`
	Primary       bool            `yaml:"primary,omitempty"`
	NotNull       bool            `yaml:"not_null,omitempty"`
	Unique        bool            `yaml:"unique,omitempty"`
	AutoIncrement bool            `yaml:"auto_increment,omitempty"`
	Default       *string         `yaml:"default,omitempty"`
	References    *yamlForeignKey `yaml:"references,omitempty"`
}

type yamlForeignKey struct {
	Table    string `yaml:"table"`
	Column   string `yaml:"column"`
	OnDelete string `yaml:"on_delete,omitempty"`
}

type yamlView struct {
	Name      string   `yaml:"name"`
	Query     string   `yaml:"query"`
	DependsOn []string `yaml:"depends_on,omitempty"`
}

type yamlBackfill struct {
	Name      string   `yaml:"name"`
	Table     string   `yaml:"table"`
	Column    string   `yaml:"column"`
	Predicate string   `yaml:"predicate,omitempty"`
	Requires  []string `yaml:"requires,omitempty"`

	// Exactly one of expression, map or patterns.
	Expression string `yaml:"expression,omitempty"`
	Map        *struct {
		Source string        `yaml:"source"`
		Cases  []schema.Case `yaml:"cases"`
	} `yaml:"map,omitempty"`
	Patterns *struct {
		Source   string           `yaml:"source"`
		Cases    []schema.Pattern `yaml:"cases"`
		Fallback string           `yaml:"fallback,omitempty"`
	} `yaml:"patterns,omitempty"`
}

type yamlSeed struct {
	Name       string   `yaml:"name"`
	Table      string   `yaml:"table"`
	Columns    []string `yaml:"columns"`
	ConflictOn string   `yaml:"conflict_on"`
	Rows       [][]any  `yaml:"rows"`
}

// LoadTargetFromYAML reads a schema target from a YAML file.
func LoadTargetFromYAML(filename string) (schema.Target, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return schema.Target{}, fmt.Errorf("reading schema file: %w", err)
	}
	return ParseTarget(data)
}

func ParseTarget(data []byte) (schema.Target, error) {
	var yf yamlFile
	if err := yaml.Unmarshal(data, &yf); err != nil {
		return schema.Target{}, fmt.Errorf("unmarshalling YAML: %w", err)
	}

	target := schema.Target{Name: yf.Name}
	if target.Name == "" {
		target.Name = "custom"
	}

	for _, t := range yf.Tables {
		tbl := schema.TableSpec{
			Name:       t.Name,
			PrimaryKey: t.PrimaryKey,
			Disposable: t.Disposable,
		}
		for _, c := range t.Columns {
			col := schema.ColumnSpec{
				Name:          c.Name,
				Type:          schema.ColumnType(strings.ToLower(c.Type)),
				NotNull:       c.NotNull,
				Unique:        c.Unique,
				AutoIncrement: c.AutoIncrement,
				Default:       c.Default,
			}
			if c.References != nil {
				col.ForeignKey = &schema.ForeignKey{
					ReferencesTable:  c.References.Table,
					ReferencesColumn: c.References.Column,
					OnDelete:         c.References.OnDelete,
				}
			}
			if c.Primary && len(t.PrimaryKey) == 0 {
				tbl.PrimaryKey = append(tbl.PrimaryKey, c.Name)
			}
			tbl.Columns = append(tbl.Columns, col)
		}
		target.Tables = append(target.Tables, tbl)
	}

	for _, v := range yf.Views {
		target.Views = append(target.Views, schema.ViewSpec{
			Name:      v.Name,
			Query:     strings.TrimSpace(v.Query),
			DependsOn: v.DependsOn,
		})
	}

	for _, b := range yf.Backfills {
		rule, err := backfillRule(b)
		if err != nil {
			return schema.Target{}, fmt.Errorf("backfill %s: %w", b.Name, err)
		}
		target.Backfills = append(target.Backfills, rule)
	}

	for _, s := range yf.Seeds {
		target.Seeds = append(target.Seeds, schema.SeedRule{
			Name:           s.Name,
			Table:          s.Table,
			Columns:        s.Columns,
			ConflictColumn: s.ConflictOn,
			Rows:           s.Rows,
		})
	}

	return target, nil
}

func backfillRule(b yamlBackfill) (schema.BackfillRule, error) {
	set := 0
	for _, ok := range []bool{b.Expression != "", b.Map != nil, b.Patterns != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return schema.BackfillRule{}, fmt.Errorf("exactly one of expression, map or patterns is required")
	}

	var rule schema.BackfillRule
	switch {
	case b.Map != nil:
		rule = schema.MappedBackfill(b.Name, b.Table, b.Column, b.Map.Source, b.Map.Cases)
	case b.Patterns != nil:
		rule = schema.BackfillRule{
			Name:            b.Name,
			Table:           b.Table,
			Column:          b.Column,
			Expression:      schema.PatternCase(b.Patterns.Source, b.Patterns.Cases, b.Patterns.Fallback),
			Predicate:       b.Column + " IS NULL",
			RequiresColumns: []string{b.Patterns.Source},
		}
	default:
		rule = schema.BackfillRule{
			Name:       b.Name,
			Table:      b.Table,
			Column:     b.Column,
			Expression: b.Expression,
		}
	}

	if b.Predicate != "" {
		rule.Predicate = b.Predicate
	}
	if len(b.Requires) > 0 {
		rule.RequiresColumns = b.Requires
	}
	return rule, nil
}

// MarshalTarget renders target in the format ParseTarget reads. Mapped and
// pattern backfills are written in their expanded expression form.
func MarshalTarget(target schema.Target) ([]byte, error) {
	yf := yamlFile{Name: target.Name}

	for _, tbl := range target.Tables {
		yt := yamlTable{Name: tbl.Name, PrimaryKey: tbl.PrimaryKey, Disposable: tbl.Disposable}
		for _, c := range tbl.Columns {
			yc := yamlColumn{
				Name:          c.Name,
				Type:          string(c.Type),
				NotNull:       c.NotNull,
				Unique:        c.Unique,
				AutoIncrement: c.AutoIncrement,
				Default:       c.Default,
			}
			if c.ForeignKey != nil {
				yc.References = &yamlForeignKey{
					Table:    c.ForeignKey.ReferencesTable,
					Column:   c.ForeignKey.ReferencesColumn,
					OnDelete: c.ForeignKey.OnDelete,
				}
			}
			yt.Columns = append(yt.Columns, yc)
		}
		yf.Tables = append(yf.Tables, yt)
	}

	for _, v := range target.Views {
		yf.Views = append(yf.Views, yamlView{Name: v.Name, Query: v.Query, DependsOn: v.DependsOn})
	}

	for _, b := range target.Backfills {
		yf.Backfills = append(yf.Backfills, yamlBackfill{
			Name:       b.Name,
			Table:      b.Table,
			Column:     b.Column,
			Predicate:  b.Predicate,
			Requires:   b.RequiresColumns,
			Expression: b.Expression,
		})
	}

	for _, s := range target.Seeds {
		yf.Seeds = append(yf.Seeds, yamlSeed{
			Name:       s.Name,
			Table:      s.Table,
			Columns:    s.Columns,
			ConflictOn: s.ConflictColumn,
			Rows:       s.Rows,
		})
	}

	data, err := yaml.Marshal(yf)
	if err != nil {
		return nil, fmt.Errorf("marshalling YAML: %w", err)
	}
	return data, nil
}
