package dupdetect

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/paddock/internal/db"
	"horse.fit/paddock/internal/embed"
	"horse.fit/paddock/internal/extract"
	"horse.fit/paddock/internal/notify"
)

type fakeStore struct {
	mu sync.Mutex

	upserts     []db.EmbeddingUpsert
	upsertErr   error
	neighbors   []db.NeighborRow
	searchErr   error
	searchCalls int
	summaries   map[int64]db.ContributionSummary
	missing     [][]db.Contribution
	activeN     int64
	embedded    []db.EmbeddedContribution
	coverage    [2]int64
	orphans     int64
	orphansErr  error
}

func (s *fakeStore) UpsertEmbedding(_ context.Context, upsert db.EmbeddingUpsert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts = append(s.upserts, upsert)
	return nil
}

func (s *fakeStore) SearchNeighbors(context.Context, db.NeighborQuery) ([]db.NeighborRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchCalls++
	return s.neighbors, s.searchErr
}

func (s *fakeStore) ContributionSummaries(_ context.Context, ids []int64) (map[int64]db.ContributionSummary, error) {
	out := make(map[int64]db.ContributionSummary, len(ids))
	for _, id := range ids {
		if summary, ok := s.summaries[id]; ok {
			out[id] = summary
		}
	}
	return out, nil
}

func (s *fakeStore) ListMissingEmbeddingContributions(_ context.Context, _ *int64, _ int) ([]db.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.missing) == 0 {
		return nil, nil
	}
	page := s.missing[0]
	s.missing = s.missing[1:]
	return page, nil
}

func (s *fakeStore) CountActiveContributions(context.Context, *int64) (int64, error) {
	return s.activeN, nil
}

func (s *fakeStore) ListEmbeddedContributions(context.Context, int64) ([]db.EmbeddedContribution, error) {
	return s.embedded, nil
}

func (s *fakeStore) DeleteOrphanEmbeddings(context.Context) (int64, error) {
	return s.orphans, s.orphansErr
}

func (s *fakeStore) EmbeddingCoverage(context.Context, int64) (int64, int64, error) {
	return s.coverage[0], s.coverage[1], nil
}

type captureSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *captureSink) Publish(_ context.Context, event notify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func textContribution(id, datasetID int64, body string) *db.Contribution {
	content, _ := json.Marshal(db.Content{Text: &db.TextContent{Body: body}})
	return &db.Contribution{
		ContributionID: id,
		DatasetID:      datasetID,
		DataType:       db.DataTypeText,
		Content:        content,
		Description:    "sample contribution",
	}
}

func newTestClassifier(store Store, sink notify.Sink) *Classifier {
	extractor := extract.New(nil, zerolog.Nop())
	embedder := embed.NewHashingEmbedder(32)
	return NewClassifier(store, extractor, embedder, sink, zerolog.Nop(), Options{})
}

func TestCheckForDuplicatesPartitionsByThreshold(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		neighbors: []db.NeighborRow{
			{ContributionID: 11, Similarity: 0.92},
			{ContributionID: 12, Similarity: 0.85},
			{ContributionID: 13, Similarity: 0.80},
			{ContributionID: 14, Similarity: 0.75},
			{ContributionID: 15, Similarity: 0.749999},
		},
		summaries: map[int64]db.ContributionSummary{
			11: {ContributionID: 11, DatasetID: 7},
		},
	}
	sink := &captureSink{}
	c := newTestClassifier(store, sink)

	result := c.CheckForDuplicates(context.Background(), textContribution(1, 7, "the quick brown fox"))

	if !result.EmbeddingComputed {
		t.Fatalf("expected embedding to be stored")
	}
	if len(store.upserts) != 1 || store.upserts[0].ContributionID != 1 {
		t.Fatalf("unexpected upserts: %+v", store.upserts)
	}
	if !result.HasDuplicates || len(result.Duplicates) != 2 {
		t.Fatalf("expected 2 duplicates, got %+v", result.Duplicates)
	}
	if result.Duplicates[0].ContributionID != 11 || result.Duplicates[1].ContributionID != 12 {
		t.Fatalf("unexpected duplicate order: %+v", result.Duplicates)
	}
	if !result.HasWarnings || len(result.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %+v", result.Warnings)
	}
	if result.Warnings[0].ContributionID != 13 || result.Warnings[1].ContributionID != 14 {
		t.Fatalf("unexpected warning order: %+v", result.Warnings)
	}
	if result.Duplicates[0].Summary == nil || result.Duplicates[0].Summary.DatasetID != 7 {
		t.Fatalf("expected enriched summary on top duplicate")
	}
	if len(sink.events) != 1 || sink.events[0].Type != notify.EventDuplicateFound {
		t.Fatalf("expected one duplicate.found event, got %+v", sink.events)
	}
}

func TestCheckForDuplicatesDegradesOnStoreFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{upsertErr: fmt.Errorf("db down")}
	sink := &captureSink{}
	c := newTestClassifier(store, sink)

	result := c.CheckForDuplicates(context.Background(), textContribution(1, 7, "the quick brown fox"))
	if result.HasDuplicates || result.HasWarnings || result.EmbeddingComputed {
		t.Fatalf("expected empty degraded result, got %+v", result)
	}
	if result.Duplicates == nil || result.Warnings == nil {
		t.Fatalf("degraded result must keep empty slices, not nils")
	}
	if len(sink.events) != 0 {
		t.Fatalf("no events expected on degrade, got %+v", sink.events)
	}
}

func TestCheckForDuplicatesEmptyContent(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	c := newTestClassifier(store, nil)

	contribution := &db.Contribution{ContributionID: 1, DatasetID: 7, DataType: db.DataTypeText, Content: json.RawMessage(`{}`)}
	result := c.CheckForDuplicates(context.Background(), contribution)
	if result.EmbeddingComputed || len(store.upserts) != 0 {
		t.Fatalf("empty content must not reach the store, got %+v", result)
	}
}

func TestProcessExistingContributionsSkipsFailures(t *testing.T) {
	t.Parallel()

	empty := &db.Contribution{ContributionID: 3, DatasetID: 7, DataType: db.DataTypeText, Content: json.RawMessage(`{}`)}
	store := &fakeStore{
		activeN: 3,
		missing: [][]db.Contribution{
			{*textContribution(1, 7, "first body"), *textContribution(2, 7, "second body"), *empty},
		},
	}
	c := newTestClassifier(store, nil)

	result, err := c.ProcessExistingContributions(context.Background(), nil)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if result.Processed != 2 || result.Skipped != 1 || result.Total != 3 {
		t.Fatalf("unexpected backfill result: %+v", result)
	}
	if len(store.upserts) != 2 {
		t.Fatalf("expected 2 stored embeddings, got %d", len(store.upserts))
	}
}

func TestProcessExistingContributionsSkipsNeighborSearch(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		activeN:   2,
		searchErr: fmt.Errorf("search must not run during backfill"),
		missing: [][]db.Contribution{
			{*textContribution(1, 7, "first body"), *textContribution(2, 7, "second body")},
		},
	}
	c := newTestClassifier(store, nil)

	result, err := c.ProcessExistingContributions(context.Background(), nil)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if result.Processed != 2 || result.Skipped != 0 {
		t.Fatalf("unexpected backfill result: %+v", result)
	}
	if store.searchCalls != 0 {
		t.Fatalf("backfill must only embed and store, got %d neighbor searches", store.searchCalls)
	}
	if len(store.upserts) != 2 {
		t.Fatalf("expected 2 stored embeddings, got %d", len(store.upserts))
	}
}

func TestExtractEmbedSelfSimilarity(t *testing.T) {
	t.Parallel()

	extractor := extract.New(nil, zerolog.Nop())
	embedder := embed.NewHashingEmbedder(32)
	contribution := textContribution(1, 7, "a long enough body for a stable embedding")

	canonical := extractor.CanonicalText(context.Background(), contribution)
	if canonical == "" {
		t.Fatalf("expected canonical text")
	}

	vector, _, err := embedder.Embed(context.Background(), canonical)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	if sim := CosineSimilarity(vector, vector); sim < 0.999999 || sim > 1.000001 {
		t.Fatalf("self-similarity must be ~1.0, got %v", sim)
	}
}

func TestFindDatasetDuplicatesPairwise(t *testing.T) {
	t.Parallel()

	same := "[1,0,0]"
	store := &fakeStore{
		embedded: []db.EmbeddedContribution{
			{ContributionID: 1, ValidationStatus: db.StatusPending, VectorLiteral: same},
			{ContributionID: 2, ValidationStatus: db.StatusPending, VectorLiteral: same},
			{ContributionID: 3, ValidationStatus: db.StatusPending, VectorLiteral: "[0,1,0]"},
			{ContributionID: 4, ValidationStatus: db.StatusApproved, VectorLiteral: same},
			{ContributionID: 5, ValidationStatus: db.StatusApproved, VectorLiteral: same},
		},
	}
	c := newTestClassifier(store, nil)

	pairs, err := c.FindDatasetDuplicates(context.Background(), 7, ScanOptions{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	// Pairs of two approved contributions are excluded by default.
	want := [][2]int64{{1, 2}, {1, 4}, {1, 5}, {2, 4}, {2, 5}}
	if len(pairs) != len(want) {
		t.Fatalf("expected %d pairs, got %+v", len(want), pairs)
	}
	for i, w := range want {
		if pairs[i].ContributionA != w[0] || pairs[i].ContributionB != w[1] {
			t.Fatalf("pair %d: got (%d,%d), want (%d,%d)", i, pairs[i].ContributionA, pairs[i].ContributionB, w[0], w[1])
		}
		if pairs[i].Similarity < 0.999999 {
			t.Fatalf("pair %d: expected near-identical similarity, got %v", i, pairs[i].Similarity)
		}
	}

	all, err := c.FindDatasetDuplicates(context.Background(), 7, ScanOptions{IncludeValidated: true})
	if err != nil {
		t.Fatalf("scan with validated: %v", err)
	}
	if len(all) != len(want)+1 {
		t.Fatalf("expected approved pair included, got %+v", all)
	}
}

func TestFindDatasetDuplicatesHonorsCancellation(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		embedded: []db.EmbeddedContribution{
			{ContributionID: 1, VectorLiteral: "[1,0]"},
			{ContributionID: 2, VectorLiteral: "[1,0]"},
		},
	}
	c := newTestClassifier(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.FindDatasetDuplicates(ctx, 7, ScanOptions{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestGenerateDuplicateReport(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		coverage: [2]int64{4, 5},
		embedded: []db.EmbeddedContribution{
			{ContributionID: 1, VectorLiteral: "[1,0]"},
			{ContributionID: 2, VectorLiteral: "[1,0]"},
			{ContributionID: 3, VectorLiteral: "[0.8,0.6]"},
		},
	}
	c := newTestClassifier(store, nil)

	report, err := c.GenerateDuplicateReport(context.Background(), 7)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Embedded != 4 || report.TotalActive != 5 || report.CoveragePercent != 80 {
		t.Fatalf("unexpected coverage: %+v", report)
	}
	// (1,2) is identical: high confidence. (1,3) and (2,3) score 0.8: medium.
	if report.HighConfidence != 1 || report.MediumConfidence != 2 {
		t.Fatalf("unexpected tiers: %+v", report)
	}
	if len(report.TopDuplicates) != 1 || report.TopDuplicates[0].ContributionA != 1 || report.TopDuplicates[0].ContributionB != 2 {
		t.Fatalf("unexpected top duplicates: %+v", report.TopDuplicates)
	}
	if len(report.TopWarnings) != 2 {
		t.Fatalf("unexpected top warnings: %+v", report.TopWarnings)
	}
}

func TestCleanupEmbeddings(t *testing.T) {
	t.Parallel()

	store := &fakeStore{orphans: 3}
	c := newTestClassifier(store, nil)

	removed, err := c.CleanupEmbeddings(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
}
