package storage

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"videoAssess/config"
	"videoAssess/core"
)

// SessionStore persists completed assessment reports.
type SessionStore interface {
	SaveReport(ctx context.Context, report *core.Report) error
	GetReport(ctx context.Context, jobID string) (*core.Report, error)
	ListSessions(ctx context.Context) ([]core.SessionSummary, error)
}

// SessionIndex supports semantic search over past sessions.
type SessionIndex interface {
	IndexReport(ctx context.Context, report *core.Report) error
	Search(ctx context.Context, query string, topK int) ([]core.SessionHit, error)
}

// Stores bundles the configured store and index; it is the report sink the
// pipeline coordinator writes completed reports to.
type Stores struct {
	Store SessionStore
	Index SessionIndex
}

func (s *Stores) SaveReport(ctx context.Context, report *core.Report) error {
	return s.Store.SaveReport(ctx, report)
}

func (s *Stores) IndexReport(ctx context.Context, report *core.Report) error {
	return s.Index.IndexReport(ctx, report)
}

// InitStores selects the backend from the STORE environment variable:
// "pgvector" persists and indexes in PostgreSQL, "milvus" keeps reports in
// memory and indexes in Milvus, anything else is fully in-memory. Backend
// init failures fall back to memory with a warning instead of refusing to
// start.
func InitStores(cfg *config.Config) *Stores {
	memory := &Stores{
		Store: NewMemorySessionStore(),
		Index: NewMemorySessionIndex(),
	}

	switch strings.ToLower(strings.TrimSpace(os.Getenv("STORE"))) {
	case "pgvector":
		if !cfg.HasValidAPI() {
			config.PrintConfigInstructions()
			fmt.Println("Warning: API configuration required for pgvector store, falling back to memory store")
			return memory
		}
		s, err := NewPgSessionStore(cfg)
		if err != nil {
			fmt.Printf("Warning: Failed to initialize pgvector store (%v), falling back to memory store\n", err)
			return memory
		}
		return &Stores{Store: s, Index: s}
	case "milvus":
		if !cfg.HasValidAPI() {
			config.PrintConfigInstructions()
			fmt.Println("Warning: API configuration required for Milvus index, falling back to memory store")
			return memory
		}
		idx, err := NewMilvusSessionIndex(cfg)
		if err != nil {
			fmt.Printf("Warning: Failed to initialize Milvus index (%v), falling back to memory store\n", err)
			return memory
		}
		return &Stores{Store: NewMemorySessionStore(), Index: idx}
	default:
		return memory
	}
}

// reportSummary flattens a report into the text that gets embedded for
// session search.
func reportSummary(report *core.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "grade %s, overall %.1f/%.0f.", report.Grade, report.OverallScore, report.MaxScore)
	for _, d := range report.Domains {
		fmt.Fprintf(&sb, " %s %.1f.", d.Domain, d.Score)
	}
	for _, f := range report.Feedback {
		sb.WriteString(" " + f)
	}
	for _, ev := range report.Events {
		sb.WriteString(" " + ev.Description + ".")
	}
	return sb.String()
}

// ---------------- Memory implementations ----------------

type MemorySessionStore struct {
	mu      sync.RWMutex
	reports map[string]*core.Report
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{reports: make(map[string]*core.Report)}
}

func (s *MemorySessionStore) SaveReport(ctx context.Context, report *core.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *report
	s.reports[report.JobID] = &cp
	return nil
}

func (s *MemorySessionStore) GetReport(ctx context.Context, jobID string) (*core.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[jobID]
	if !ok {
		return nil, fmt.Errorf("no report for job %s", jobID)
	}
	cp := *report
	return &cp, nil
}

func (s *MemorySessionStore) ListSessions(ctx context.Context) ([]core.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]core.SessionSummary, 0, len(s.reports))
	for _, r := range s.reports {
		sessions = append(sessions, core.SessionSummary{
			JobID:        r.JobID,
			VideoPath:    r.VideoPath,
			OverallScore: r.OverallScore,
			Percentage:   r.Percentage,
			Grade:        r.Grade,
			CreatedAt:    r.CreatedAt,
		})
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.After(sessions[j].CreatedAt) })
	return sessions, nil
}

// MemorySessionIndex ranks sessions by cosine similarity over normalized
// term-frequency vectors. No API calls, so it works without credentials.
type MemorySessionIndex struct {
	mu   sync.RWMutex
	docs map[string]indexDoc
}

type indexDoc struct {
	Grade   string
	Summary string
	Embed   map[string]float64
}

func NewMemorySessionIndex() *MemorySessionIndex {
	return &MemorySessionIndex{docs: make(map[string]indexDoc)}
}

func (s *MemorySessionIndex) IndexReport(ctx context.Context, report *core.Report) error {
	summary := reportSummary(report)
	s.mu.Lock()
	s.docs[report.JobID] = indexDoc{
		Grade:   report.Grade,
		Summary: summary,
		Embed:   embedText(strings.ToLower(summary)),
	}
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionIndex) Search(ctx context.Context, query string, topK int) ([]core.SessionHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qv := embedText(strings.ToLower(query))
	type scored struct {
		jobID string
		score float64
	}
	scores := make([]scored, 0, len(s.docs))
	for jobID, d := range s.docs {
		scores = append(scores, scored{jobID, cosine(qv, d.Embed)})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].jobID < scores[j].jobID
	})
	if topK <= 0 || topK > len(scores) {
		topK = len(scores)
		if topK > 5 {
			topK = 5
		}
	}

	hits := make([]core.SessionHit, 0, topK)
	for _, sc := range scores[:topK] {
		d := s.docs[sc.jobID]
		hits = append(hits, core.SessionHit{JobID: sc.jobID, Score: sc.score, Grade: d.Grade, Summary: d.Summary})
	}
	return hits, nil
}

func embedText(text string) map[string]float64 {
	m := map[string]float64{}
	for _, t := range strings.Fields(text) {
		m[t]++
	}
	var sum float64
	for _, v := range m {
		sum += v * v
	}
	if sum == 0 {
		return m
	}
	norm := math.Sqrt(sum)
	for k, v := range m {
		m[k] = v / norm
	}
	return m
}

func cosine(a, b map[string]float64) float64 {
	var dot float64
	for k, va := range a {
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	return dot
}

// ---------------- Shared API helpers ----------------

func openaiClient(cfg *config.Config) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

func embedWithAPI(ctx context.Context, cli *openai.Client, cfg *config.Config, text string) ([]float32, error) {
	resp, err := cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(cfg.EmbeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API failed: %v", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}
