package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/guardedit/pkg/models"
)

// DefaultTable is the table runs are recorded in
const DefaultTable = "guardedit_runs"

// Record is one finished pipeline run
type Record struct {
	RunID        string
	Objective    string
	Mode         string
	State        string
	Verdict      string
	Touched      []string
	Inserted     int
	Deleted      int
	Branch       string
	ReviewURL    string
	ManualReview bool
	PublishError string
	Message      string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// FromOutcome flattens a run outcome into a record
func FromOutcome(o *models.Outcome) Record {
	r := Record{
		RunID:        o.RunID,
		Objective:    o.Objective,
		Mode:         string(o.Mode),
		State:        string(o.State),
		Verdict:      o.Verdict().String(),
		Touched:      o.Touched,
		Inserted:     o.Inserted,
		Deleted:      o.Deleted,
		Branch:       o.Branch,
		ReviewURL:    o.ReviewURL,
		ManualReview: o.ManualReview,
		Message:      o.Message,
		StartedAt:    o.StartedAt,
		FinishedAt:   o.FinishedAt,
	}
	if o.PublishErr != nil {
		r.PublishError = o.PublishErr.Error()
	}
	if r.Touched == nil {
		r.Touched = []string{}
	}
	return r
}

// Sink persists run records
type Sink interface {
	Record(ctx context.Context, rec Record) error
	Close()
}

// LogSink writes records to the structured log
type LogSink struct{}

// Record implements Sink
func (LogSink) Record(ctx context.Context, rec Record) error {
	log.Info().
		Str("run_id", rec.RunID).
		Str("mode", rec.Mode).
		Str("state", rec.State).
		Str("verdict", rec.Verdict).
		Strs("touched", rec.Touched).
		Int("inserted", rec.Inserted).
		Int("deleted", rec.Deleted).
		Str("branch", rec.Branch).
		Str("review_url", rec.ReviewURL).
		Str("publish_error", rec.PublishError).
		Dur("duration", rec.FinishedAt.Sub(rec.StartedAt)).
		Msg("Run recorded")
	return nil
}

// Close implements Sink
func (LogSink) Close() {}

// MultiSink fans a record out to several sinks. Every sink is tried.
type MultiSink []Sink

// Record implements Sink
func (m MultiSink) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink
func (m MultiSink) Close() {
	for _, s := range m {
		s.Close()
	}
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresSink stores records in a Postgres table, created on first use
type PostgresSink struct {
	pool  *pgxpool.Pool
	table string
}

// ResolveDSN returns the configured DSN, falling back to DATABASE_URL
func ResolveDSN(configured string) string {
	if dsn := strings.TrimSpace(configured); dsn != "" {
		return dsn
	}
	return strings.TrimSpace(os.Getenv("DATABASE_URL"))
}

// NewPostgresSink connects to Postgres and makes sure the table exists
func NewPostgresSink(ctx context.Context, dsn, table string) (*PostgresSink, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid audit table name %q", table)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	s := &PostgresSink{pool: pool, table: pgx.Identifier{table}.Sanitize()}
	if _, err := pool.Exec(ctx, s.createTableSQL()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}
	return s, nil
}

func (s *PostgresSink) createTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	run_id        TEXT PRIMARY KEY,
	objective     TEXT NOT NULL,
	mode          TEXT NOT NULL,
	state         TEXT NOT NULL,
	verdict       TEXT NOT NULL,
	touched       TEXT[] NOT NULL DEFAULT '{}',
	inserted      INTEGER NOT NULL DEFAULT 0,
	deleted       INTEGER NOT NULL DEFAULT 0,
	branch        TEXT,
	review_url    TEXT,
	manual_review BOOLEAN NOT NULL DEFAULT FALSE,
	publish_error TEXT,
	message       TEXT,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL
)`
}

func (s *PostgresSink) insertSQL() string {
	return `INSERT INTO ` + s.table + ` (
	run_id, objective, mode, state, verdict, touched, inserted, deleted,
	branch, review_url, manual_review, publish_error, message, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (run_id) DO NOTHING`
}

// Record implements Sink
func (s *PostgresSink) Record(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, s.insertSQL(),
		rec.RunID, rec.Objective, rec.Mode, rec.State, rec.Verdict, rec.Touched,
		rec.Inserted, rec.Deleted, rec.Branch, rec.ReviewURL, rec.ManualReview,
		rec.PublishError, rec.Message, rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record %s: %w", rec.RunID, err)
	}
	return nil
}

// Close implements Sink
func (s *PostgresSink) Close() {
	s.pool.Close()
}

// Open returns the log sink, plus a Postgres sink when a DSN is available.
// A database that cannot be reached is logged and skipped.
func Open(ctx context.Context, dsn, table string) Sink {
	sinks := MultiSink{LogSink{}}
	if dsn = ResolveDSN(dsn); dsn == "" {
		return sinks
	}

	pg, err := NewPostgresSink(ctx, dsn, table)
	if err != nil {
		log.Warn().Err(err).Msg("Audit database unavailable, recording to log only")
		return sinks
	}
	return append(sinks, pg)
}
