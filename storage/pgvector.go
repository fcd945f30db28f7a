package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	openai "github.com/sashabaranov/go-openai"

	"videoAssess/config"
	"videoAssess/core"
)

const embeddingDim = 1536

// PgSessionStore keeps reports in PostgreSQL and serves as both store and
// index: the full report lives in a JSONB column, the summary embedding in a
// pgvector column.
type PgSessionStore struct {
	conn *pgx.Conn
	cfg  *config.Config
	oa   *openai.Client
}

func NewPgSessionStore(cfg *config.Config) (*PgSessionStore, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = cfg.PostgresURL
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PgSessionStore{conn: conn, cfg: cfg, oa: openaiClient(cfg)}
	if err := s.ensureTable(ctx); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *PgSessionStore) ensureTable(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS assessment_sessions (
			job_id VARCHAR(64) PRIMARY KEY,
			video_path VARCHAR(1000),
			content_key VARCHAR(64),
			duration FLOAT,
			overall_score FLOAT,
			percentage FLOAT,
			grade VARCHAR(2),
			summary TEXT,
			report JSONB NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`, embeddingDim)
	if _, err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create assessment_sessions table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_content_key ON assessment_sessions(content_key);",
		"CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON assessment_sessions(created_at);",
	}
	for _, indexQuery := range indexes {
		if _, err := s.conn.Exec(ctx, indexQuery); err != nil {
			fmt.Printf("Warning: failed to create index: %v\n", err)
		}
	}
	return nil
}

// SaveReport upserts the report; a re-run of the same job overwrites.
// The embedding is computed here so a later Search needs no re-processing.
func (s *PgSessionStore) SaveReport(ctx context.Context, report *core.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	summary := reportSummary(report)
	var vec interface{}
	if emb, err := embedWithAPI(ctx, s.oa, s.cfg, strings.ToLower(summary)); err == nil {
		vec = pgvector.NewVector(emb)
	} else {
		// Stored without an embedding; the row is still retrievable by id.
		fmt.Printf("Warning: embedding failed for %s: %v\n", report.JobID, err)
	}

	_, err = s.conn.Exec(ctx, `
		INSERT INTO assessment_sessions
			(job_id, video_path, content_key, duration, overall_score, percentage, grade, summary, report, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (job_id)
		DO UPDATE SET
			video_path = EXCLUDED.video_path,
			content_key = EXCLUDED.content_key,
			duration = EXCLUDED.duration,
			overall_score = EXCLUDED.overall_score,
			percentage = EXCLUDED.percentage,
			grade = EXCLUDED.grade,
			summary = EXCLUDED.summary,
			report = EXCLUDED.report,
			embedding = EXCLUDED.embedding
	`, report.JobID, report.VideoPath, report.ContentKey, report.DurationSec,
		report.OverallScore, report.Percentage, report.Grade, summary, body, vec, report.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PgSessionStore) GetReport(ctx context.Context, jobID string) (*core.Report, error) {
	var body []byte
	err := s.conn.QueryRow(ctx,
		"SELECT report FROM assessment_sessions WHERE job_id = $1", jobID).Scan(&body)
	if err != nil {
		return nil, fmt.Errorf("no report for job %s: %w", jobID, err)
	}
	var report core.Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("unmarshal report %s: %w", jobID, err)
	}
	return &report, nil
}

func (s *PgSessionStore) ListSessions(ctx context.Context) ([]core.SessionSummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT job_id, video_path, overall_score, percentage, grade, created_at
		FROM assessment_sessions
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []core.SessionSummary
	for rows.Next() {
		var sum core.SessionSummary
		var created time.Time
		if err := rows.Scan(&sum.JobID, &sum.VideoPath, &sum.OverallScore, &sum.Percentage, &sum.Grade, &created); err != nil {
			continue
		}
		sum.CreatedAt = created
		sessions = append(sessions, sum)
	}
	return sessions, nil
}

func (s *PgSessionStore) IndexReport(ctx context.Context, report *core.Report) error {
	// SaveReport already wrote the embedding; nothing extra to do.
	return nil
}

func (s *PgSessionStore) Search(ctx context.Context, query string, topK int) ([]core.SessionHit, error) {
	if topK <= 0 {
		topK = 5
	}
	emb, err := embedWithAPI(ctx, s.oa, s.cfg, strings.ToLower(query))
	if err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(emb)

	rows, err := s.conn.Query(ctx, `
		SELECT job_id, grade, summary, 1 - (embedding <=> $1) as similarity
		FROM assessment_sessions
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2
	`, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	defer rows.Close()

	var hits []core.SessionHit
	for rows.Next() {
		var hit core.SessionHit
		if err := rows.Scan(&hit.JobID, &hit.Grade, &hit.Summary, &hit.Score); err != nil {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *PgSessionStore) Close() {
	s.conn.Close(context.Background())
}
