// Package storage persists profiles, applications, rule tables, knowledge
// chunks, and the audit trail in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/coreengine/config"
)

// ErrProfileNotFound is returned when no profile exists for an email.
var ErrProfileNotFound = errors.New("profile not found")

// ErrMissingEmail is returned when an application record has no resolvable
// email. Persisting such a record would corrupt the data model, so this is a
// hard failure, never downgraded.
var ErrMissingEmail = errors.New("application record has no resolvable email")

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
    email TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS applications (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    state TEXT NOT NULL,
    data TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT '',
    details TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS compliance_rules (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    state TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS guardrails_rules (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pattern TEXT NOT NULL,
    severity TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS kb_chunks (
    id TEXT PRIMARY KEY,
    collection TEXT NOT NULL DEFAULT 'rental_kb',
    text TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',
    embedding TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applications_email ON applications(email);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_logs(created_at);
CREATE INDEX IF NOT EXISTS idx_compliance_state ON compliance_rules(state);
CREATE INDEX IF NOT EXISTS idx_chunks_collection ON kb_chunks(collection);
`

// Rule is a named compliance rule scoped to a jurisdiction.
type Rule struct {
	State       string `json:"state"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// GuardrailRule is a redaction rule row.
type GuardrailRule struct {
	Pattern     string `json:"pattern"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Application is a persisted application record.
type Application struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	State     string         `json:"state"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditEvent is a single audit trail entry.
type AuditEvent struct {
	RequestID string         `json:"request_id"`
	Action    string         `json:"action"`
	State     string         `json:"state"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens the database and initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db, path: dbPath}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// PROFILES
// =============================================================================

// GetProfile returns the stored profile for an email.
func (s *Store) GetProfile(ctx context.Context, email string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM profiles WHERE LOWER(email) = LOWER(?)`, email).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", email, err)
	}

	var profile map[string]any
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", email, err)
	}
	return profile, nil
}

// SaveProfile upserts a profile keyed by email.
func (s *Store) SaveProfile(ctx context.Context, email string, data map[string]any) error {
	if email == "" {
		return ErrMissingEmail
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", email, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (email, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		email, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save profile %s: %w", email, err)
	}
	return nil
}

// =============================================================================
// APPLICATIONS
// =============================================================================

// SaveApplication persists an application record. The record must carry a
// resolvable email.
func (s *Store) SaveApplication(ctx context.Context, app *Application) error {
	if app.Email == "" {
		return ErrMissingEmail
	}
	if app.ID == "" {
		app.ID = "app_" + uuid.New().String()[:16]
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(app.Data)
	if err != nil {
		return fmt.Errorf("encode application: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO applications (id, email, state, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		app.ID, app.Email, app.State, string(raw), app.CreatedAt)
	if err != nil {
		return fmt.Errorf("save application %s: %w", app.ID, err)
	}
	return nil
}

// ListApplications returns all applications, most recent first.
func (s *Store) ListApplications(ctx context.Context) ([]*Application, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, state, data, created_at FROM applications ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	apps := make([]*Application, 0)
	for rows.Next() {
		var app Application
		var raw string
		if err := rows.Scan(&app.ID, &app.Email, &app.State, &raw, &app.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &app.Data); err != nil {
			log.Warn().Str("application", app.ID).Err(err).Msg("application_data_decode_failed")
			app.Data = map[string]any{}
		}
		apps = append(apps, &app)
	}
	return apps, rows.Err()
}

// =============================================================================
// RULE TABLES
// =============================================================================

// ComplianceRulesFor returns the stored compliance rules for a jurisdiction
// in insertion order.
func (s *Store) ComplianceRulesFor(ctx context.Context, state string) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, name, description FROM compliance_rules WHERE state = ? ORDER BY id`, state)
	if err != nil {
		return nil, fmt.Errorf("compliance rules for %s: %w", state, err)
	}
	defer rows.Close()

	rules := make([]Rule, 0)
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.State, &r.Name, &r.Description); err != nil {
			return nil, fmt.Errorf("scan compliance rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GuardrailRules returns all redaction rules in declaration order.
func (s *Store) GuardrailRules(ctx context.Context) ([]GuardrailRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pattern, severity, description FROM guardrails_rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("guardrail rules: %w", err)
	}
	defer rows.Close()

	rules := make([]GuardrailRule, 0)
	for rows.Next() {
		var r GuardrailRule
		if err := rows.Scan(&r.Pattern, &r.Severity, &r.Description); err != nil {
			return nil, fmt.Errorf("scan guardrail rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SeedIfEmpty populates the rule tables from the static configuration when
// they hold no rows. Called once at startup.
func (s *Store) SeedIfEmpty(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM compliance_rules`).Scan(&count); err != nil {
		return fmt.Errorf("count compliance rules: %w", err)
	}
	if count == 0 {
		for state, rules := range config.FallbackComplianceRules {
			for _, r := range rules {
				if _, err := s.db.ExecContext(ctx,
					`INSERT INTO compliance_rules (state, name, description) VALUES (?, ?, ?)`,
					state, r.Name, r.Description); err != nil {
					return fmt.Errorf("seed compliance rule %s/%s: %w", state, r.Name, err)
				}
			}
		}
		log.Info().Msg("compliance_rules_seeded")
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM guardrails_rules`).Scan(&count); err != nil {
		return fmt.Errorf("count guardrail rules: %w", err)
	}
	if count == 0 {
		for _, p := range config.DefaultGuardrailPatterns {
			if _, err := s.db.ExecContext(ctx,
				`INSERT INTO guardrails_rules (pattern, severity, description) VALUES (?, ?, ?)`,
				p.Pattern, p.Severity, p.Description); err != nil {
				return fmt.Errorf("seed guardrail rule: %w", err)
			}
		}
		log.Info().Msg("guardrails_rules_seeded")
	}

	return nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

// AppendAudit appends one audit trail entry.
func (s *Store) AppendAudit(ctx context.Context, event *AuditEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	details, err := json.Marshal(event.Details)
	if err != nil {
		details = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (request_id, action, state, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.RequestID, event.Action, event.State, string(details), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// RecentAudit returns the most recent audit entries, newest first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]*AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, action, state, details, created_at FROM audit_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0, limit)
	for rows.Next() {
		var e AuditEvent
		var details string
		if err := rows.Scan(&e.RequestID, &e.Action, &e.State, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		_ = json.Unmarshal([]byte(details), &e.Details)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// =============================================================================
// STATUS
// =============================================================================

// Status reports row counts per table for the status endpoint.
func (s *Store) Status(ctx context.Context) (map[string]int, error) {
	tables := []string{"profiles", "applications", "audit_logs", "compliance_rules", "guardrails_rules", "kb_chunks"}
	status := make(map[string]int, len(tables))
	for _, table := range tables {
		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		status[table] = count
	}
	return status, nil
}
