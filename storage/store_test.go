package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"videoAssess/core"
)

func sampleReport(jobID, grade string, created time.Time) *core.Report {
	return &core.Report{
		JobID:        jobID,
		VideoPath:    "/videos/" + jobID + ".mp4",
		Grade:        grade,
		OverallScore: 32,
		MaxScore:     40,
		Percentage:   80,
		Feedback:     []string{"patient_education has room for improvement"},
		Events: []core.TimelineEvent{
			{Type: "teach_back", Description: "Used teach-back to confirm understanding"},
		},
		CreatedAt: created,
	}
}

func TestMemorySessionStoreSaveAndGet(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	report := sampleReport("j1", "B", time.Now())
	if err := s.SaveReport(ctx, report); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := s.GetReport(ctx, "j1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Grade != "B" || got.JobID != "j1" {
		t.Fatalf("unexpected report: %+v", got)
	}

	if _, err := s.GetReport(ctx, "missing"); err == nil {
		t.Fatalf("expected error for missing report")
	}
}

func TestMemorySessionStoreListNewestFirst(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	now := time.Now()
	s.SaveReport(ctx, sampleReport("old", "C", now.Add(-time.Hour)))
	s.SaveReport(ctx, sampleReport("new", "A", now))

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0].JobID != "new" {
		t.Fatalf("expected newest first, got %v", sessions)
	}
}

func TestMemorySessionIndexSearchRanking(t *testing.T) {
	idx := NewMemorySessionIndex()
	ctx := context.Background()

	teach := sampleReport("teach", "A", time.Now())
	idx.IndexReport(ctx, teach)

	jargon := sampleReport("jargon", "D", time.Now())
	jargon.Events = []core.TimelineEvent{
		{Type: "jargon_unexplained", Description: "Used medical jargon without explanation"},
	}
	jargon.Feedback = []string{"communication needs significant improvement"}
	idx.IndexReport(ctx, jargon)

	hits, err := idx.Search(ctx, "jargon without explanation", 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].JobID != "jargon" {
		t.Fatalf("expected jargon session ranked first, got %v", hits)
	}
	if hits[0].Score <= hits[1].Score {
		t.Fatalf("scores not descending: %v", hits)
	}
}

func TestMemorySessionIndexTopK(t *testing.T) {
	idx := NewMemorySessionIndex()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		idx.IndexReport(ctx, sampleReport(id, "B", time.Now()))
	}

	hits, err := idx.Search(ctx, "teach-back", 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("top_k not honored: %d hits", len(hits))
	}
}

func TestReportSummaryContents(t *testing.T) {
	report := sampleReport("j1", "B", time.Now())
	report.Domains = []core.DomainScore{{Domain: "communication", Score: 8}}

	summary := reportSummary(report)
	for _, want := range []string{"grade B", "communication 8.0", "teach-back", "room for improvement"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q: %s", want, summary)
		}
	}
}
