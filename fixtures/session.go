// Package fixtures writes and reads audit sessions used for manual testing of
// the audit application.
package fixtures

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ridoystarlord/auditconverge/database"
	"github.com/ridoystarlord/auditconverge/introspect"
)

const DirectTestSessionID = "direct-test-session"

var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is a saved set of audit filters.
type SessionRecord struct {
	SessionID        string
	SessionName      string
	FrameworkFilter  string
	FrameworkPattern string
	CategoryFilter   string
	RiskLevelFilter  string
	SectorFilter     string
	RegionFilter     string
}

// DirectTestSession is the fixed session that links straight into the audit
// questions, bypassing the session form.
func DirectTestSession(now time.Time) SessionRecord {
	return SessionRecord{
		SessionID:        DirectTestSessionID,
		SessionName:      "Direct Test Session " + now.Format("2006-01-02"),
		FrameworkFilter:  "EU AI Act (2023)",
		FrameworkPattern: "%EU AI Law:%",
		CategoryFilter:   "Defensive Model Strengthening",
		RiskLevelFilter:  "High Risk",
		SectorFilter:     "Financial Services",
		RegionFilter:     "EU",
	}
}

func (s SessionRecord) values() map[string]string {
	return map[string]string{
		"session_name":      s.SessionName,
		"framework_filter":  s.FrameworkFilter,
		"framework_pattern": s.FrameworkPattern,
		"category_filter":   s.CategoryFilter,
		"risk_level_filter": s.RiskLevelFilter,
		"sector_filter":     s.SectorFilter,
		"region_filter":     s.RegionFilter,
	}
}

var valueColumns = []string{
	"session_name",
	"framework_filter",
	"framework_pattern",
	"category_filter",
	"risk_level_filter",
	"sector_filter",
	"region_filter",
}

// keyColumn resolves the session key. session_id is canonical; databases
// written by older tooling key sessions by id.
func keyColumn(cols map[string]bool) (string, error) {
	switch {
	case cols["session_id"]:
		return "session_id", nil
	case cols["id"]:
		return "id", nil
	case len(cols) == 0:
		return "", fmt.Errorf("audit_sessions does not exist, run converge first")
	}
	return "", fmt.Errorf("audit_sessions has neither session_id nor id")
}

// UpsertSession inserts the session or updates its filters in place. Columns
// the table lacks are skipped. It reports whether a new row was created.
func UpsertSession(ctx context.Context, q database.Querier, d database.Dialect, s SessionRecord) (bool, error) {
	cols, err := introspect.ColumnSet(ctx, q, d, "audit_sessions")
	if err != nil {
		return false, err
	}
	key, err := keyColumn(cols)
	if err != nil {
		return false, err
	}

	var present []string
	for _, c := range valueColumns {
		if cols[c] {
			present = append(present, c)
		}
	}
	values := s.values()

	var n int
	err = q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM audit_sessions WHERE %s = %s", d.QuoteIdent(key), d.Placeholder(1)),
		s.SessionID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("look up session %s: %w", s.SessionID, err)
	}

	if n > 0 {
		if len(present) == 0 {
			return false, nil
		}
		sets := make([]string, len(present))
		args := make([]any, 0, len(present)+1)
		for i, c := range present {
			sets[i] = fmt.Sprintf("%s = %s", d.QuoteIdent(c), d.Placeholder(i+1))
			args = append(args, values[c])
		}
		args = append(args, s.SessionID)
		query := fmt.Sprintf("UPDATE audit_sessions SET %s WHERE %s = %s",
			strings.Join(sets, ", "), d.QuoteIdent(key), d.Placeholder(len(args)))
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return false, fmt.Errorf("update session %s: %w", s.SessionID, err)
		}
		return false, nil
	}

	insertCols := append([]string{key}, present...)
	quoted := make([]string, len(insertCols))
	params := make([]string, len(insertCols))
	args := make([]any, len(insertCols))
	for i, c := range insertCols {
		quoted[i] = d.QuoteIdent(c)
		params[i] = d.Placeholder(i + 1)
		if i == 0 {
			args[i] = s.SessionID
		} else {
			args[i] = values[c]
		}
	}
	query := fmt.Sprintf("INSERT INTO audit_sessions (%s) VALUES (%s)", strings.Join(quoted, ", "), strings.Join(params, ", "))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("insert session %s: %w", s.SessionID, err)
	}
	return true, nil
}

// LoadSession reads a session by key, through whichever key column the table has.
func LoadSession(ctx context.Context, q database.Querier, d database.Dialect, sessionID string) (*SessionRecord, error) {
	cols, err := introspect.ColumnSet(ctx, q, d, "audit_sessions")
	if err != nil {
		return nil, err
	}
	key, err := keyColumn(cols)
	if err != nil {
		return nil, err
	}

	selects := make([]string, len(valueColumns))
	for i, c := range valueColumns {
		if cols[c] {
			selects[i] = d.QuoteIdent(c)
		} else {
			selects[i] = "NULL"
		}
	}

	fields := make([]sql.NullString, len(valueColumns))
	dest := make([]any, len(fields))
	for i := range fields {
		dest[i] = &fields[i]
	}
	err = q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM audit_sessions WHERE %s = %s", strings.Join(selects, ", "), d.QuoteIdent(key), d.Placeholder(1)),
		sessionID,
	).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	return &SessionRecord{
		SessionID:        sessionID,
		SessionName:      fields[0].String,
		FrameworkFilter:  fields[1].String,
		FrameworkPattern: fields[2].String,
		CategoryFilter:   fields[3].String,
		RiskLevelFilter:  fields[4].String,
		SectorFilter:     fields[5].String,
		RegionFilter:     fields[6].String,
	}, nil
}
