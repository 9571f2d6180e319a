package schema

// AuditTarget is the schema the audit application expects. It folds the
// evidence, scoring, framework-filter and session patches into one target.
func AuditTarget() Target {
	return Target{
		Name: "audit-controls",
		Tables: []TableSpec{
			{
				Name: "controls",
				Columns: []ColumnSpec{
					{Name: "id", Type: Integer, AutoIncrement: true},
					{Name: "control_name", Type: Text},
					{Name: "description", Type: Text},
					{Name: "category", Type: Text},
					{Name: "framework", Type: Text},
					{Name: "framework_tag", Type: Text},
					{Name: "risk_level", Type: Text},
					{Name: "sector", Type: Text},
				},
				PrimaryKey: []string{"id"},
			},
			{
				Name: "audit_sessions",
				Columns: []ColumnSpec{
					{Name: "session_id", Type: Text},
					{Name: "session_name", Type: Text},
					{Name: "framework_filter", Type: Text},
					{Name: "framework_pattern", Type: Text},
					{Name: "category_filter", Type: Text},
					{Name: "risk_level_filter", Type: Text},
					{Name: "sector_filter", Type: Text},
					{Name: "region_filter", Type: Text},
					{Name: "created_at", Type: Timestamp, Default: Default("CURRENT_TIMESTAMP")},
				},
				PrimaryKey: []string{"session_id"},
			},
			{
				Name: "audit_responses",
				Columns: []ColumnSpec{
					{Name: "id", Type: Integer, AutoIncrement: true},
					{Name: "session_id", Type: Text, ForeignKey: &ForeignKey{ReferencesTable: "audit_sessions", ReferencesColumn: "session_id"}},
					{Name: "control_id", Type: Integer, ForeignKey: &ForeignKey{ReferencesTable: "controls", ReferencesColumn: "id"}},
					{Name: "response", Type: Text},
					{Name: "evidence_date", Type: Text},
					{Name: "evidence_notes", Type: Text},
					{Name: "response_score", Type: Integer},
				},
				PrimaryKey: []string{"id"},
			},
			{
				Name: "evidence_urls",
				Columns: []ColumnSpec{
					{Name: "id", Type: Integer, AutoIncrement: true},
					{Name: "response_id", Type: Integer, ForeignKey: &ForeignKey{ReferencesTable: "audit_responses", ReferencesColumn: "id"}},
					{Name: "url", Type: Text, NotNull: true, Default: Default("''")},
				},
				PrimaryKey: []string{"id"},
			},
			{
				Name: "evidence_files",
				Columns: []ColumnSpec{
					{Name: "id", Type: Integer, AutoIncrement: true},
					{Name: "response_id", Type: Integer, ForeignKey: &ForeignKey{ReferencesTable: "audit_responses", ReferencesColumn: "id"}},
					{Name: "filename", Type: Text, NotNull: true, Default: Default("''")},
					{Name: "file_path", Type: Text, NotNull: true, Default: Default("''")},
					{Name: "upload_date", Type: Text, NotNull: true, Default: Default("''")},
				},
				PrimaryKey: []string{"id"},
			},
			{
				Name: "framework_mapping",
				Columns: []ColumnSpec{
					{Name: "framework_name", Type: Text},
					{Name: "search_pattern", Type: Text, NotNull: true, Default: Default("'%'")},
				},
				PrimaryKey: []string{"framework_name"},
				Disposable: true,
			},
		},
		Views: []ViewSpec{
			{
				Name: "framework_filtered_controls",
				Query: "SELECT c.*,\n    " + PatternCase("c.framework", []Pattern{
					{Like: "%EU AI%", Label: "EU AI Act"},
					{Like: "%GDPR%", Label: "GDPR"},
					{Like: "%NIST%", Label: "NIST"},
					{Like: "%ISO%", Label: "ISO"},
					{Like: "%SCF%", Label: "SCF"},
					{Like: "%COBIT%", Label: "COBIT"},
					{Like: "%FAIR%", Label: "FAIR"},
					{Like: "%SOC%", Label: "SOC"},
					{Like: "%HIPAA%", Label: "HIPAA"},
					{Like: "%HITRUST%", Label: "HITRUST"},
				}, "Other") + " AS simple_framework\nFROM controls c",
				DependsOn: []string{"controls"},
			},
		},
		Backfills: []BackfillRule{
			MappedBackfill("response_score", "audit_responses", "response_score", "response", []Case{
				{When: "Yes", Then: "5"},
				{When: "Partial", Then: "3"},
				{When: "No", Then: "1"},
			}),
			{
				Name:   "framework_tag",
				Table:  "controls",
				Column: "framework_tag",
				Expression: PatternCase("framework", []Pattern{
					{Like: "%EU AI Law%", Label: "EU AI Act"},
					{Like: "%EU AI Act%", Label: "EU AI Act"},
					{Like: "%EU AI%", Label: "EU AI"},
					{Like: "%GDPR%", Label: "GDPR"},
					{Like: "%NIST%", Label: "NIST"},
					{Like: "%ISO%", Label: "ISO"},
					{Like: "%SCF%", Label: "SCF"},
					{Like: "%COSO%", Label: "COSO"},
					{Like: "%COBIT%", Label: "COBIT"},
					{Like: "%FAIR%", Label: "FAIR"},
					{Like: "%HITRUST%", Label: "HITRUST"},
					{Like: "%HIPAA%", Label: "HIPAA"},
					{Like: "%SOC%", Label: "SOC"},
				}, "Unified Framework"),
				Predicate:       "framework_tag IS NULL",
				RequiresColumns: []string{"framework"},
			},
			{
				// Older databases keyed sessions by "id"; carry it into the canonical column.
				Name:            "legacy_session_id",
				Table:           "audit_sessions",
				Column:          "session_id",
				Expression:      "CAST(id AS TEXT)",
				Predicate:       "session_id IS NULL AND id IS NOT NULL",
				RequiresColumns: []string{"id"},
			},
		},
	}
}

// FrameworkMappingSeed fills framework_mapping with the known framework search
// patterns. It is opt-in: a converged empty database otherwise holds no rows.
func FrameworkMappingSeed() SeedRule {
	return SeedRule{
		Name:           "framework_mapping",
		Table:          "framework_mapping",
		Columns:        []string{"framework_name", "search_pattern"},
		ConflictColumn: "framework_name",
		Rows: [][]any{
			{"EU AI Act (2023)", "%EU AI Law:%"},
			{"NIST AI RMF", "%NIST 800-%"},
			{"ISO/IEC 42001", "%ISO/IEC%"},
			{"GDPR for AI", "%GDPR:%"},
			{"MITRE ATLAS", "%MITRE ATLAS%"},
			{"OWASP Top 10 for LLMs", "%OWASP%"},
			{"UK FCA AI/ML Guidance", "%UK FCA%"},
			{"US Blueprint for AI Bill of Rights", "%US Blueprint%"},
			{"ISACA Audit Toolkit", "%ISACA%"},
			{"Canada Artificial Intelligence Act", "%Canada AI%"},
			{"Unified Framework (ASIMOV-AI)", "%"},
		},
	}
}
