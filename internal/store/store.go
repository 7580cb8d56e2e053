package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mohammad-safakhou/deepresearch/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Store persists finished research runs in Postgres.
type Store struct {
	DB *sql.DB
}

var ErrEmptyRunID = errors.New("research record has no run id")

// RunSummary is one row of ListResearchRuns.
type RunSummary struct {
	RunID      string              `json:"run_id"`
	Question   string              `json:"question"`
	Mode       models.ResearchMode `json:"mode"`
	StopReason models.StopReason   `json:"stop_reason"`
	FinishedAt time.Time           `json:"finished_at"`
}

var (
	metricsOnce    sync.Once
	savedCounter   otelmetric.Int64Counter
	metricsInitErr error
)

func initStoreMetrics() {
	meter := otel.Meter("deepresearch/store")
	savedCounter, metricsInitErr = meter.Int64Counter("research_runs_saved_total")
}

// NewWithDSN opens the database, pings it and creates the tables if needed.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS research_runs (
  run_id       TEXT PRIMARY KEY,
  question     TEXT NOT NULL,
  mode         TEXT NOT NULL,
  answer       TEXT NOT NULL DEFAULT '',
  stop_reason  TEXT NOT NULL,
  gaps         TEXT[] NOT NULL DEFAULT '{}',
  instructions JSONB NOT NULL DEFAULT '[]',
  responses    JSONB NOT NULL DEFAULT '[]',
  started_at   TIMESTAMPTZ NOT NULL,
  finished_at  TIMESTAMPTZ NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS research_citations (
  run_id  TEXT NOT NULL REFERENCES research_runs(run_id) ON DELETE CASCADE,
  number  INT  NOT NULL,
  doc_id  TEXT NOT NULL,
  title   TEXT NOT NULL,
  url     TEXT NOT NULL DEFAULT '',
  source  TEXT NOT NULL,
  document JSONB NOT NULL,
  PRIMARY KEY (run_id, number)
);
CREATE INDEX IF NOT EXISTS research_runs_finished_idx ON research_runs (finished_at DESC);
`

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.DB.Close() }

// SaveResearchRun writes the run and its citations in one transaction.
// Saving the same run id again replaces it.
func (s *Store) SaveResearchRun(ctx context.Context, rec models.ResearchRecord) error {
	if rec.RunID == "" {
		return ErrEmptyRunID
	}
	instructions, err := json.Marshal(orEmpty(rec.Instructions))
	if err != nil {
		return fmt.Errorf("marshal instructions: %w", err)
	}
	responses, err := json.Marshal(orEmpty(rec.Responses))
	if err != nil {
		return fmt.Errorf("marshal responses: %w", err)
	}
	gaps := rec.Gaps
	if gaps == nil {
		gaps = []string{}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO research_runs (run_id, question, mode, answer, stop_reason, gaps, instructions, responses, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (run_id) DO UPDATE SET
  question = EXCLUDED.question,
  mode = EXCLUDED.mode,
  answer = EXCLUDED.answer,
  stop_reason = EXCLUDED.stop_reason,
  gaps = EXCLUDED.gaps,
  instructions = EXCLUDED.instructions,
  responses = EXCLUDED.responses,
  started_at = EXCLUDED.started_at,
  finished_at = EXCLUDED.finished_at;
`, rec.RunID, rec.Question, string(rec.Mode), rec.Answer, string(rec.StopReason), pq.Array(gaps),
		instructions, responses, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM research_citations WHERE run_id = $1`, rec.RunID); err != nil {
		return fmt.Errorf("clear citations: %w", err)
	}
	for _, c := range rec.Citations {
		doc, err := json.Marshal(c.Document)
		if err != nil {
			return fmt.Errorf("marshal citation %d: %w", c.Number, err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO research_citations (run_id, number, doc_id, title, url, source, document)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			rec.RunID, c.Number, c.Document.ID, c.Document.Title, c.Document.URL, string(c.Document.Source), doc)
		if err != nil {
			return fmt.Errorf("insert citation %d: %w", c.Number, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr == nil && savedCounter != nil {
		savedCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("mode", string(rec.Mode)),
			attribute.String("stop_reason", string(rec.StopReason)),
		))
	}
	return nil
}

// GetResearchRun loads a stored run with its citations.
func (s *Store) GetResearchRun(ctx context.Context, runID string) (models.ResearchRecord, bool, error) {
	var (
		rec                     models.ResearchRecord
		mode, stop              string
		instructions, responses []byte
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT run_id, question, mode, answer, stop_reason, gaps, instructions, responses, started_at, finished_at
FROM research_runs WHERE run_id = $1`, runID).Scan(
		&rec.RunID, &rec.Question, &mode, &rec.Answer, &stop, pq.Array(&rec.Gaps),
		&instructions, &responses, &rec.StartedAt, &rec.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ResearchRecord{}, false, nil
	}
	if err != nil {
		return models.ResearchRecord{}, false, err
	}
	rec.Mode = models.ResearchMode(mode)
	rec.StopReason = models.StopReason(stop)
	if err := json.Unmarshal(instructions, &rec.Instructions); err != nil {
		return models.ResearchRecord{}, false, fmt.Errorf("decode instructions: %w", err)
	}
	if err := json.Unmarshal(responses, &rec.Responses); err != nil {
		return models.ResearchRecord{}, false, fmt.Errorf("decode responses: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `
SELECT number, document FROM research_citations WHERE run_id = $1 ORDER BY number`, runID)
	if err != nil {
		return models.ResearchRecord{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c   models.Citation
			doc []byte
		)
		if err := rows.Scan(&c.Number, &doc); err != nil {
			return models.ResearchRecord{}, false, err
		}
		if err := json.Unmarshal(doc, &c.Document); err != nil {
			return models.ResearchRecord{}, false, fmt.Errorf("decode citation %d: %w", c.Number, err)
		}
		rec.Citations = append(rec.Citations, c)
	}
	return rec, true, rows.Err()
}

// ListResearchRuns returns the most recently finished runs.
func (s *Store) ListResearchRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id, question, mode, stop_reason, finished_at
FROM research_runs ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunSummary
	for rows.Next() {
		var (
			r          RunSummary
			mode, stop string
		)
		if err := rows.Scan(&r.RunID, &r.Question, &mode, &stop, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.Mode = models.ResearchMode(mode)
		r.StopReason = models.StopReason(stop)
		out = append(out, r)
	}
	return out, rows.Err()
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
