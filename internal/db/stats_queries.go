package db

import (
	"context"
	"fmt"
)

// LanguageCount is one language bucket among a dataset's active contributions.
type LanguageCount struct {
	Language string `json:"language"`
	Count    int64  `json:"count"`
}

// DatasetStats is the read model behind the stats endpoint and CLI report.
type DatasetStats struct {
	DatasetID         int64           `json:"dataset_id"`
	ActiveTotal       int64           `json:"active_total"`
	Pending           int64           `json:"pending"`
	Approved          int64           `json:"approved"`
	Rejected          int64           `json:"rejected"`
	ActiveValidations int64           `json:"active_validations"`
	Embedded          int64           `json:"embedded"`
	Languages         []LanguageCount `json:"languages,omitempty"`
}

// QueryDatasetStats aggregates contribution, validation, and embedding counts
// for one dataset.
func (p *Pool) QueryDatasetStats(ctx context.Context, datasetID int64) (DatasetStats, error) {
	stats := DatasetStats{DatasetID: datasetID}

	const q = `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE c.validation_status = 'pending'),
	COUNT(*) FILTER (WHERE c.validation_status = 'approved'),
	COUNT(*) FILTER (WHERE c.validation_status = 'rejected'),
	COUNT(ce.contribution_id)
FROM crowd.contributions c
LEFT JOIN crowd.contribution_embeddings ce ON ce.contribution_id = c.contribution_id
WHERE c.dataset_id = $1
  AND c.deleted_at IS NULL
`
	if err := p.QueryRow(ctx, q, datasetID).Scan(
		&stats.ActiveTotal,
		&stats.Pending,
		&stats.Approved,
		&stats.Rejected,
		&stats.Embedded,
	); err != nil {
		return DatasetStats{}, fmt.Errorf("query dataset %d contribution stats: %w", datasetID, err)
	}

	const vq = `
SELECT COUNT(*)
FROM crowd.validations v
JOIN crowd.contributions c ON c.contribution_id = v.contribution_id
WHERE c.dataset_id = $1
  AND c.deleted_at IS NULL
  AND v.deleted_at IS NULL
`
	if err := p.QueryRow(ctx, vq, datasetID).Scan(&stats.ActiveValidations); err != nil {
		return DatasetStats{}, fmt.Errorf("query dataset %d validation stats: %w", datasetID, err)
	}

	const lq = `
SELECT language, COUNT(*)
FROM crowd.contributions
WHERE dataset_id = $1
  AND deleted_at IS NULL
  AND language <> ''
GROUP BY language
ORDER BY COUNT(*) DESC, language
`
	rows, err := p.Query(ctx, lq, datasetID)
	if err != nil {
		return DatasetStats{}, fmt.Errorf("query dataset %d language stats: %w", datasetID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var lc LanguageCount
		if err := rows.Scan(&lc.Language, &lc.Count); err != nil {
			return DatasetStats{}, fmt.Errorf("scan language bucket: %w", err)
		}
		stats.Languages = append(stats.Languages, lc)
	}
	if err := rows.Err(); err != nil {
		return DatasetStats{}, fmt.Errorf("iterate language buckets: %w", err)
	}

	return stats, nil
}
