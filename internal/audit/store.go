package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Store persists audit events to SQLite or PostgreSQL.
type Store struct {
	db         *sql.DB
	isPostgres bool
	lastHash   string     // hash of the last recorded event
	hashMu     sync.Mutex // protects lastHash and serializes inserts
}

// StoreConfig configures the audit store.
type StoreConfig struct {
	// DSN selects the backend. "postgres://" or "postgresql://" uses pgx;
	// anything else is a SQLite file path. Empty means "rio-audit.db".
	DSN string
}

// IsPostgres reports whether the store is backed by PostgreSQL.
func (s *Store) IsPostgres() bool { return s.isPostgres }

// rebind rewrites ? placeholders into $N for PostgreSQL.
func rebind(isPostgres bool, query string) string {
	if !isPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// NewStore opens the database, creates the schema and restores the chain head.
func NewStore(cfg StoreConfig) (*Store, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = "rio-audit.db"
	}
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")

	var db *sql.DB
	var err error
	if isPostgres {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	} else {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create audit directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	if err := createTables(db, isPostgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	s := &Store{db: db, isPostgres: isPostgres, lastHash: GenesisHash}
	if err := s.initLastHash(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init last hash: %w", err)
	}
	return s, nil
}

func (s *Store) initLastHash() error {
	var hash sql.NullString
	err := s.db.QueryRow(`SELECT event_hash FROM audit_events ORDER BY id DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if hash.Valid && hash.String != "" {
		s.lastHash = hash.String
	}
	return nil
}

func createTables(db *sql.DB, isPostgres bool) error {
	pkDef := "INTEGER PRIMARY KEY AUTOINCREMENT"
	createdAt := "TEXT DEFAULT CURRENT_TIMESTAMP"
	if isPostgres {
		pkDef = "BIGSERIAL PRIMARY KEY"
		createdAt = "TIMESTAMPTZ DEFAULT NOW()"
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS audit_events (
		id %s,
		event_id TEXT UNIQUE NOT NULL,
		timestamp TEXT NOT NULL,
		event_type TEXT NOT NULL,
		trace_id TEXT,
		prev_hash TEXT,
		event_hash TEXT,
		session_id TEXT NOT NULL,
		user_query TEXT,
		tool_name TEXT,
		outcome_status TEXT,
		outcome_error TEXT,
		outcome_duration_ms INTEGER,
		raw_json TEXT NOT NULL,
		created_at %s
	)`, pkDef, createdAt)
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON audit_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_trace ON audit_events(trace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON audit_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_tool ON audit_events(tool_name)`,
		`CREATE INDEX IF NOT EXISTS idx_events_status ON audit_events(outcome_status)`,
	} {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

// Record assigns an ID and timestamp when missing, links the event into the
// hash chain and persists it.
func (s *Store) Record(ctx context.Context, event *Event) error {
	if event.EventID == "" {
		event.EventID = "evt_" + uuid.New().String()[:8]
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Hold the lock through the insert so the chain order matches row order.
	s.hashMu.Lock()
	defer s.hashMu.Unlock()

	event.PrevHash = s.lastHash
	event.EventHash = ComputeEventHash(event)

	rawJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var toolName string
	if event.Tool != nil {
		toolName = event.Tool.Name
	}
	var status, errMsg string
	var durationMs int64
	if event.Outcome != nil {
		status = event.Outcome.Status
		errMsg = event.Outcome.ErrorMessage
		durationMs = event.Outcome.Duration.Milliseconds()
	}

	_, err = s.db.ExecContext(ctx, rebind(s.isPostgres, `
		INSERT INTO audit_events (
			event_id, timestamp, event_type, trace_id, prev_hash, event_hash,
			session_id, user_query, tool_name,
			outcome_status, outcome_error, outcome_duration_ms, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		event.EventID,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		string(event.EventType),
		event.TraceID,
		event.PrevHash,
		event.EventHash,
		event.Session.ID,
		event.Input.UserQuery,
		toolName,
		status,
		errMsg,
		durationMs,
		string(rawJSON),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	s.lastHash = event.EventHash
	return nil
}

// QueryOptions specifies filters for querying events.
type QueryOptions struct {
	EventType EventType
	TraceID   string // all events of one citizen query, in chronological order
	ToolName  string
	Status    string
	Since     time.Time
	Limit     int
}

// Query returns matching events, newest first unless TraceID is set.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]Event, error) {
	query := `SELECT raw_json FROM audit_events WHERE 1=1`
	var args []any

	if opts.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, string(opts.EventType))
	}
	if opts.TraceID != "" {
		query += " AND trace_id = ?"
		args = append(args, opts.TraceID)
	}
	if opts.ToolName != "" {
		query += " AND tool_name = ?"
		args = append(args, opts.ToolName)
	}
	if opts.Status != "" {
		query += " AND outcome_status = ?"
		args = append(args, opts.Status)
	}
	if !opts.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since.UTC().Format(time.RFC3339Nano))
	}

	if opts.TraceID != "" {
		query += " ORDER BY id ASC"
	} else {
		query += " ORDER BY id DESC"
	}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, rebind(s.isPostgres, query), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// VerifyIntegrity walks the whole table in insertion order and checks the
// hash chain.
func (s *Store) VerifyIntegrity(ctx context.Context) (ChainStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT raw_json FROM audit_events ORDER BY id ASC`)
	if err != nil {
		return ChainStatus{}, fmt.Errorf("query events for verify: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return ChainStatus{}, err
	}
	return VerifyChainStatus(events), nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var rawJSON string
		if err := rows.Scan(&rawJSON); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var event Event
		if err := json.Unmarshal([]byte(rawJSON), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetLastHash returns the hash of the most recent event.
func (s *Store) GetLastHash() string {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()
	return s.lastHash
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
