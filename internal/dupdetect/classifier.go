package dupdetect

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"horse.fit/paddock/internal/db"
	"horse.fit/paddock/internal/embed"
	"horse.fit/paddock/internal/extract"
	"horse.fit/paddock/internal/globaltime"
	"horse.fit/paddock/internal/notify"
	"horse.fit/paddock/internal/reader"
)

const (
	DefaultDuplicateThreshold = 0.85
	DefaultWarningThreshold   = 0.75
	DefaultNeighborLimit      = 20

	excerptMaxChars  = 500
	backfillPageSize = 100
)

// Store is the durable-store surface the classifier needs. *db.Pool
// implements it.
type Store interface {
	UpsertEmbedding(ctx context.Context, upsert db.EmbeddingUpsert) error
	SearchNeighbors(ctx context.Context, query db.NeighborQuery) ([]db.NeighborRow, error)
	ContributionSummaries(ctx context.Context, ids []int64) (map[int64]db.ContributionSummary, error)
	ListMissingEmbeddingContributions(ctx context.Context, datasetID *int64, limit int) ([]db.Contribution, error)
	CountActiveContributions(ctx context.Context, datasetID *int64) (int64, error)
	ListEmbeddedContributions(ctx context.Context, datasetID int64) ([]db.EmbeddedContribution, error)
	DeleteOrphanEmbeddings(ctx context.Context) (int64, error)
	EmbeddingCoverage(ctx context.Context, datasetID int64) (embedded, totalActive int64, err error)
}

// Options carries the classification thresholds. Thresholds are construction
// state, not process globals, so tests can run classifiers side by side.
type Options struct {
	DuplicateThreshold float64
	WarningThreshold   float64
	NeighborLimit      int
}

func (o Options) withDefaults() Options {
	if o.DuplicateThreshold <= 0 {
		o.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if o.WarningThreshold <= 0 {
		o.WarningThreshold = DefaultWarningThreshold
	}
	if o.NeighborLimit <= 0 {
		o.NeighborLimit = DefaultNeighborLimit
	}
	return o
}

// Classifier orchestrates extract → embed → store → query and classifies
// neighbors into duplicate and warning tiers.
type Classifier struct {
	store     Store
	extractor *extract.Extractor
	embedder  embed.Embedder
	notifier  notify.Sink
	logger    zerolog.Logger
	opts      Options
}

func NewClassifier(store Store, extractor *extract.Extractor, embedder embed.Embedder, notifier notify.Sink, logger zerolog.Logger, opts Options) *Classifier {
	if notifier == nil {
		notifier = notify.NopSink{}
	}
	return &Classifier{
		store:     store,
		extractor: extractor,
		embedder:  embedder,
		notifier:  notifier,
		logger:    logger,
		opts:      opts.withDefaults(),
	}
}

// Match is one near-duplicate hit enriched with the neighbor's public summary.
type Match struct {
	ContributionID int64                   `json:"contribution_id"`
	Similarity     float64                 `json:"similarity"`
	Summary        *db.ContributionSummary `json:"summary,omitempty"`
}

// CheckResult is the outcome of a single duplicate check.
type CheckResult struct {
	HasDuplicates     bool    `json:"has_duplicates"`
	HasWarnings       bool    `json:"has_warnings"`
	Duplicates        []Match `json:"duplicates"`
	Warnings          []Match `json:"warnings"`
	EmbeddingComputed bool    `json:"embedding_computed"`
}

// CheckForDuplicates runs the full pipeline for one contribution. It is
// best-effort by contract: any store or embedding failure degrades to an
// empty result so contribution creation never aborts on this path.
func (c *Classifier) CheckForDuplicates(ctx context.Context, contribution *db.Contribution) CheckResult {
	empty := CheckResult{Duplicates: []Match{}, Warnings: []Match{}}
	if contribution == nil {
		return empty
	}

	canonical := c.extractor.CanonicalText(ctx, contribution)
	if canonical == "" {
		return empty
	}

	result, err := c.checkExtracted(ctx, contribution, canonical)
	if err != nil {
		c.logger.Warn().Err(err).
			Int64("contribution_id", contribution.ContributionID).
			Msg("duplicate check degraded to empty result")
		return empty
	}

	if result.HasDuplicates || result.HasWarnings {
		c.notifier.Publish(ctx, notify.NewEvent(notify.EventDuplicateFound, contribution.DatasetID, contribution.ContributionID, map[string]any{
			"duplicates": len(result.Duplicates),
			"warnings":   len(result.Warnings),
		}))
	}
	return result
}

// embedAndStore embeds canonical text and upserts the vector row, returning
// the encoded literal for any follow-up search.
func (c *Classifier) embedAndStore(ctx context.Context, contribution *db.Contribution, canonical string) (string, error) {
	vector, modelID, err := c.embedder.Embed(ctx, canonical)
	if err != nil {
		return "", fmt.Errorf("embed contribution %d: %w", contribution.ContributionID, err)
	}

	literal, err := ToVectorLiteral(vector)
	if err != nil {
		return "", fmt.Errorf("encode vector for contribution %d: %w", contribution.ContributionID, err)
	}

	excerpt, _ := reader.TruncateText(canonical, excerptMaxChars)
	if err := c.store.UpsertEmbedding(ctx, db.EmbeddingUpsert{
		ContributionID: contribution.ContributionID,
		VectorLiteral:  literal,
		ContentExcerpt: excerpt,
		ModelID:        modelID,
		ExtractedAt:    globaltime.UTC(),
	}); err != nil {
		return "", err
	}
	return literal, nil
}

func (c *Classifier) checkExtracted(ctx context.Context, contribution *db.Contribution, canonical string) (CheckResult, error) {
	result := CheckResult{Duplicates: []Match{}, Warnings: []Match{}}

	literal, err := c.embedAndStore(ctx, contribution, canonical)
	if err != nil {
		return result, err
	}
	result.EmbeddingComputed = true

	neighbors, err := c.store.SearchNeighbors(ctx, db.NeighborQuery{
		VectorLiteral: literal,
		DatasetID:     contribution.DatasetID,
		ExcludeID:     contribution.ContributionID,
		Limit:         c.opts.NeighborLimit,
		MinSimilarity: c.opts.WarningThreshold,
	})
	if err != nil {
		return result, err
	}

	duplicates, warnings := partitionNeighbors(neighbors, c.opts.DuplicateThreshold, c.opts.WarningThreshold)
	c.enrich(ctx, duplicates, warnings)

	result.Duplicates = duplicates
	result.Warnings = warnings
	result.HasDuplicates = len(duplicates) > 0
	result.HasWarnings = len(warnings) > 0
	return result, nil
}

// partitionNeighbors splits neighbors into tiers. Boundaries are inclusive at
// the lower edge of each tier: similarity == duplicateThreshold is a
// duplicate, similarity == warningThreshold is a warning.
func partitionNeighbors(neighbors []db.NeighborRow, duplicateThreshold, warningThreshold float64) (duplicates, warnings []Match) {
	duplicates = []Match{}
	warnings = []Match{}
	for _, n := range neighbors {
		switch {
		case n.Similarity >= duplicateThreshold:
			duplicates = append(duplicates, Match{ContributionID: n.ContributionID, Similarity: n.Similarity})
		case n.Similarity >= warningThreshold:
			warnings = append(warnings, Match{ContributionID: n.ContributionID, Similarity: n.Similarity})
		}
	}
	sortMatches(duplicates)
	sortMatches(warnings)
	return duplicates, warnings
}

func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ContributionID < matches[j].ContributionID
	})
}

func (c *Classifier) enrich(ctx context.Context, groups ...[]Match) {
	var ids []int64
	for _, group := range groups {
		for _, match := range group {
			ids = append(ids, match.ContributionID)
		}
	}
	if len(ids) == 0 {
		return
	}

	summaries, err := c.store.ContributionSummaries(ctx, ids)
	if err != nil {
		c.logger.Warn().Err(err).Msg("neighbor summary enrichment failed")
		return
	}
	for _, group := range groups {
		for i := range group {
			if summary, ok := summaries[group[i].ContributionID]; ok {
				s := summary
				group[i].Summary = &s
			}
		}
	}
}

// BackfillResult reports a processExistingContributions run.
type BackfillResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Total     int `json:"total"`
}

// ProcessExistingContributions embeds every active contribution that has no
// stored embedding yet, optionally scoped to one dataset. Per-item failures
// are counted and skipped; the batch keeps going.
func (c *Classifier) ProcessExistingContributions(ctx context.Context, datasetID *int64) (BackfillResult, error) {
	total, err := c.store.CountActiveContributions(ctx, datasetID)
	if err != nil {
		return BackfillResult{}, err
	}
	result := BackfillResult{Total: int(total)}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		pending, err := c.store.ListMissingEmbeddingContributions(ctx, datasetID, backfillPageSize)
		if err != nil {
			return result, err
		}
		if len(pending) == 0 {
			break
		}

		progressed := false
		for i := range pending {
			contribution := &pending[i]
			canonical := c.extractor.CanonicalText(ctx, contribution)
			if canonical == "" {
				c.logger.Debug().Int64("contribution_id", contribution.ContributionID).Msg("backfill skipped empty contribution")
				continue
			}
			if _, err := c.embedAndStore(ctx, contribution, canonical); err != nil {
				c.logger.Warn().Err(err).Int64("contribution_id", contribution.ContributionID).Msg("backfill embedding failed")
				continue
			}
			result.Processed++
			progressed = true
		}

		// Items that failed or extracted empty stay unembedded; once a full
		// page makes no progress the remainder is unprocessable.
		if !progressed {
			break
		}
	}

	result.Skipped = result.Total - result.Processed
	if result.Skipped < 0 {
		result.Skipped = 0
	}
	return result, nil
}

// DuplicatePair is one unordered near-duplicate pair inside a dataset.
type DuplicatePair struct {
	ContributionA int64   `json:"contribution_a"`
	ContributionB int64   `json:"contribution_b"`
	Similarity    float64 `json:"similarity"`
}

// ScanOptions controls a dataset-wide pairwise scan.
type ScanOptions struct {
	Threshold        float64
	IncludeValidated bool
}

// FindDatasetDuplicates runs the O(n²) pairwise scan over a dataset's
// embedded, active contributions. On-demand administrative use only; it must
// never run on the submission path.
func (c *Classifier) FindDatasetDuplicates(ctx context.Context, datasetID int64, opts ScanOptions) ([]DuplicatePair, error) {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = c.opts.DuplicateThreshold
	}

	embedded, err := c.store.ListEmbeddedContributions(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float64, len(embedded))
	for i, e := range embedded {
		vector, err := ParseVectorLiteral(e.VectorLiteral)
		if err != nil {
			return nil, fmt.Errorf("contribution %d: %w", e.ContributionID, err)
		}
		vectors[i] = vector
	}

	pairs := []DuplicatePair{}
	for i := range embedded {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(embedded); j++ {
			if !opts.IncludeValidated &&
				embedded[i].ValidationStatus == db.StatusApproved &&
				embedded[j].ValidationStatus == db.StatusApproved {
				continue
			}
			similarity := CosineSimilarity(vectors[i], vectors[j])
			if similarity >= threshold {
				pairs = append(pairs, DuplicatePair{
					ContributionA: embedded[i].ContributionID,
					ContributionB: embedded[j].ContributionID,
					Similarity:    similarity,
				})
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Similarity != pairs[j].Similarity {
			return pairs[i].Similarity > pairs[j].Similarity
		}
		if pairs[i].ContributionA != pairs[j].ContributionA {
			return pairs[i].ContributionA < pairs[j].ContributionA
		}
		return pairs[i].ContributionB < pairs[j].ContributionB
	})
	return pairs, nil
}

// Report summarizes duplicate pressure and embedding coverage for a dataset.
type Report struct {
	DatasetID        int64           `json:"dataset_id"`
	TotalActive      int64           `json:"total_active"`
	Embedded         int64           `json:"embedded"`
	CoveragePercent  float64         `json:"coverage_percent"`
	HighConfidence   int             `json:"high_confidence_pairs"`
	MediumConfidence int             `json:"medium_confidence_pairs"`
	TopDuplicates    []DuplicatePair `json:"top_duplicates"`
	TopWarnings      []DuplicatePair `json:"top_warnings"`
}

const reportTopExamples = 5

// GenerateDuplicateReport combines a warning-threshold pairwise scan with
// coverage statistics.
func (c *Classifier) GenerateDuplicateReport(ctx context.Context, datasetID int64) (Report, error) {
	embedded, totalActive, err := c.store.EmbeddingCoverage(ctx, datasetID)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		DatasetID:     datasetID,
		TotalActive:   totalActive,
		Embedded:      embedded,
		TopDuplicates: []DuplicatePair{},
		TopWarnings:   []DuplicatePair{},
	}
	if totalActive > 0 {
		report.CoveragePercent = 100 * float64(embedded) / float64(totalActive)
	}

	pairs, err := c.FindDatasetDuplicates(ctx, datasetID, ScanOptions{
		Threshold:        c.opts.WarningThreshold,
		IncludeValidated: true,
	})
	if err != nil {
		return Report{}, err
	}

	for _, pair := range pairs {
		if pair.Similarity >= c.opts.DuplicateThreshold {
			report.HighConfidence++
			if len(report.TopDuplicates) < reportTopExamples {
				report.TopDuplicates = append(report.TopDuplicates, pair)
			}
		} else {
			report.MediumConfidence++
			if len(report.TopWarnings) < reportTopExamples {
				report.TopWarnings = append(report.TopWarnings, pair)
			}
		}
	}
	return report, nil
}

// CleanupEmbeddings removes embedding rows orphaned by purged or soft-deleted
// contributions.
func (c *Classifier) CleanupEmbeddings(ctx context.Context) (int64, error) {
	removed, err := c.store.DeleteOrphanEmbeddings(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.logger.Info().Int64("removed", removed).Msg("orphaned embeddings removed")
	}
	return removed, nil
}
