package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	openai "github.com/sashabaranov/go-openai"

	"videoAssess/config"
	"videoAssess/core"
)

// MilvusSessionIndex indexes session summaries in a Milvus collection for
// semantic search. Reports themselves stay in the session store.
type MilvusSessionIndex struct {
	mc   client.Client
	coll string
	dim  int
	cfg  *config.Config
	oa   *openai.Client
}

func NewMilvusSessionIndex(cfg *config.Config) (*MilvusSessionIndex, error) {
	addr := os.Getenv("MILVUS_ADDR")
	if addr == "" {
		addr = "localhost:19530"
	}
	coll := os.Getenv("MILVUS_COLLECTION")
	if coll == "" {
		coll = "assessment_sessions"
	}

	mc, err := client.NewClient(context.Background(), client.Config{
		Address:  addr,
		Username: os.Getenv("MILVUS_USERNAME"),
		Password: os.Getenv("MILVUS_PASSWORD"),
		APIKey:   os.Getenv("MILVUS_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	s := &MilvusSessionIndex{mc: mc, coll: coll, dim: embeddingDim, cfg: cfg, oa: openaiClient(cfg)}
	if err := s.ensureSchemaAndIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MilvusSessionIndex) ensureSchemaAndIndex() error {
	ctx := context.Background()
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema()
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("job_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(128))
		schema.WithField(entity.NewField().WithName("grade").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8))
		schema.WithField(entity.NewField().WithName("summary").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (s *MilvusSessionIndex) IndexReport(ctx context.Context, report *core.Report) error {
	summary := reportSummary(report)
	emb, err := embedWithAPI(ctx, s.oa, s.cfg, strings.ToLower(summary))
	if err != nil {
		return err
	}

	_, err = s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("job_id", []string{report.JobID}),
		entity.NewColumnVarChar("grade", []string{report.Grade}),
		entity.NewColumnVarChar("summary", []string{summary}),
		entity.NewColumnFloatVector("vector", s.dim, [][]float32{emb}),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *MilvusSessionIndex) Search(ctx context.Context, query string, topK int) ([]core.SessionHit, error) {
	if topK <= 0 {
		topK = 5
	}
	emb, err := embedWithAPI(ctx, s.oa, s.cfg, strings.ToLower(query))
	if err != nil {
		return nil, err
	}

	sp, _ := entity.NewIndexHNSWSearchParam(74)
	res, err := s.mc.Search(ctx, s.coll, []string{}, "",
		[]string{"job_id", "grade", "summary"},
		[]entity.Vector{entity.FloatVector(emb)}, "vector", entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}

	var hits []core.SessionHit
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			var jobID, grade, summary string
			if c, ok := cols["job_id"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					jobID = data[i]
				}
			}
			if c, ok := cols["grade"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					grade = data[i]
				}
			}
			if c, ok := cols["summary"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					summary = data[i]
				}
			}
			hits = append(hits, core.SessionHit{
				JobID:   jobID,
				Score:   float64(r.Scores[i]),
				Grade:   grade,
				Summary: summary,
			})
		}
	}
	return hits, nil
}
