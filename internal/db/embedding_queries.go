package db

import (
	"context"
	"fmt"
	"time"
)

// EmbeddingUpsert is the write model for the vector store.
type EmbeddingUpsert struct {
	ContributionID int64
	VectorLiteral  string
	ContentExcerpt string
	ModelID        string
	ExtractedAt    time.Time
}

// NeighborQuery scopes a similarity search to one dataset, excluding the
// query contribution itself.
type NeighborQuery struct {
	VectorLiteral string
	DatasetID     int64
	ExcludeID     int64
	Limit         int
	MinSimilarity float64
}

// NeighborRow is one similarity search hit.
type NeighborRow struct {
	ContributionID int64
	Similarity     float64
}

// EmbeddedContribution feeds the dataset-wide pairwise scan.
type EmbeddedContribution struct {
	ContributionID   int64
	ValidationStatus ValidationStatus
	VectorLiteral    string
}

// UpsertEmbedding atomically inserts or replaces the embedding row for a
// contribution. Last write wins under concurrent calls for the same id.
func (p *Pool) UpsertEmbedding(ctx context.Context, upsert EmbeddingUpsert) error {
	const q = `
INSERT INTO crowd.contribution_embeddings (
	contribution_id,
	model_id,
	embedding,
	content_excerpt,
	extracted_at
)
VALUES ($1, $2, $3::vector, $4, $5)
ON CONFLICT (contribution_id) DO UPDATE
SET model_id = EXCLUDED.model_id,
	embedding = EXCLUDED.embedding,
	content_excerpt = EXCLUDED.content_excerpt,
	extracted_at = EXCLUDED.extracted_at
`
	extractedAt := upsert.ExtractedAt
	if extractedAt.IsZero() {
		extractedAt = time.Now().UTC()
	}

	if _, err := p.Exec(ctx, q,
		upsert.ContributionID,
		upsert.ModelID,
		upsert.VectorLiteral,
		upsert.ContentExcerpt,
		extractedAt,
	); err != nil {
		return fmt.Errorf("upsert embedding for contribution %d: %w", upsert.ContributionID, err)
	}
	return nil
}

// SearchNeighbors returns active contributions in the dataset ordered by
// cosine similarity descending, ties broken by ascending contribution id.
func (p *Pool) SearchNeighbors(ctx context.Context, query NeighborQuery) ([]NeighborRow, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}

	const q = `
SELECT
	c.contribution_id,
	(1 - (ce.embedding <=> $1::vector))::DOUBLE PRECISION AS similarity
FROM crowd.contribution_embeddings ce
JOIN crowd.contributions c ON c.contribution_id = ce.contribution_id
WHERE c.dataset_id = $2
  AND c.contribution_id <> $3
  AND c.deleted_at IS NULL
  AND (1 - (ce.embedding <=> $1::vector)) >= $4
ORDER BY similarity DESC, c.contribution_id ASC
LIMIT $5
`

	rows, err := p.Query(ctx, q,
		query.VectorLiteral,
		query.DatasetID,
		query.ExcludeID,
		query.MinSimilarity,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query neighbors: %w", err)
	}
	defer rows.Close()

	neighbors := make([]NeighborRow, 0, limit)
	for rows.Next() {
		var n NeighborRow
		if err := rows.Scan(&n.ContributionID, &n.Similarity); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return neighbors, nil
}

// ListEmbeddedContributions loads every active, embedded contribution of a
// dataset with its vector literal, ordered by contribution id.
func (p *Pool) ListEmbeddedContributions(ctx context.Context, datasetID int64) ([]EmbeddedContribution, error) {
	const q = `
SELECT
	c.contribution_id,
	c.validation_status,
	ce.embedding::text
FROM crowd.contribution_embeddings ce
JOIN crowd.contributions c ON c.contribution_id = ce.contribution_id
WHERE c.dataset_id = $1
  AND c.deleted_at IS NULL
ORDER BY c.contribution_id
`
	rows, err := p.Query(ctx, q, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list embedded contributions for dataset %d: %w", datasetID, err)
	}
	defer rows.Close()

	var embedded []EmbeddedContribution
	for rows.Next() {
		var e EmbeddedContribution
		if err := rows.Scan(&e.ContributionID, &e.ValidationStatus, &e.VectorLiteral); err != nil {
			return nil, fmt.Errorf("scan embedded contribution: %w", err)
		}
		embedded = append(embedded, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedded contributions: %w", err)
	}
	return embedded, nil
}

// DeleteOrphanEmbeddings removes embedding rows whose contribution is gone or
// soft-deleted. Returns the number of rows removed.
func (p *Pool) DeleteOrphanEmbeddings(ctx context.Context) (int64, error) {
	const q = `
DELETE FROM crowd.contribution_embeddings ce
WHERE NOT EXISTS (
	SELECT 1
	FROM crowd.contributions c
	WHERE c.contribution_id = ce.contribution_id
	  AND c.deleted_at IS NULL
)
`
	tag, err := p.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("delete orphan embeddings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// EmbeddingCoverage reports embedded vs. total active contributions for a dataset.
func (p *Pool) EmbeddingCoverage(ctx context.Context, datasetID int64) (embedded, totalActive int64, err error) {
	const q = `
SELECT
	COUNT(ce.contribution_id),
	COUNT(*)
FROM crowd.contributions c
LEFT JOIN crowd.contribution_embeddings ce ON ce.contribution_id = c.contribution_id
WHERE c.dataset_id = $1
  AND c.deleted_at IS NULL
`
	if err := p.QueryRow(ctx, q, datasetID).Scan(&embedded, &totalActive); err != nil {
		return 0, 0, fmt.Errorf("embedding coverage for dataset %d: %w", datasetID, err)
	}
	return embedded, totalActive, nil
}
