package db

import (
	"context"
	"fmt"
)

const datasetColumns = `
	dataset_id,
	dataset_uuid::text,
	owner_id,
	name,
	slug,
	description,
	data_type,
	record_schema,
	contribution_count,
	validation_count,
	status,
	deleted_at,
	created_at,
	updated_at`

func scanDataset(row interface{ Scan(dest ...any) error }) (Dataset, error) {
	var (
		d            Dataset
		recordSchema []byte
	)
	err := row.Scan(
		&d.DatasetID,
		&d.DatasetUUID,
		&d.OwnerID,
		&d.Name,
		&d.Slug,
		&d.Description,
		&d.DataType,
		&recordSchema,
		&d.ContributionCount,
		&d.ValidationCount,
		&d.Status,
		&d.DeletedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return Dataset{}, err
	}
	d.RecordSchema = recordSchema
	return d, nil
}

// GetDataset loads one dataset row.
func (p *Pool) GetDataset(ctx context.Context, datasetID int64) (Dataset, error) {
	q := fmt.Sprintf(`SELECT %s FROM crowd.datasets WHERE dataset_id = $1`, datasetColumns)

	d, err := scanDataset(p.QueryRow(ctx, q, datasetID))
	if err != nil {
		if IsNoRows(err) {
			return Dataset{}, err
		}
		return Dataset{}, fmt.Errorf("get dataset %d: %w", datasetID, err)
	}
	return d, nil
}

// GetDatasetBySlug loads one dataset row by its slug.
func (p *Pool) GetDatasetBySlug(ctx context.Context, slug string) (Dataset, error) {
	q := fmt.Sprintf(`SELECT %s FROM crowd.datasets WHERE slug = $1`, datasetColumns)

	d, err := scanDataset(p.QueryRow(ctx, q, slug))
	if err != nil {
		if IsNoRows(err) {
			return Dataset{}, err
		}
		return Dataset{}, fmt.Errorf("get dataset by slug %q: %w", slug, err)
	}
	return d, nil
}

// CreateDataset inserts a dataset and fills in generated identifiers.
func (p *Pool) CreateDataset(ctx context.Context, d *Dataset) error {
	if d == nil {
		return fmt.Errorf("dataset is nil")
	}

	const q = `
INSERT INTO crowd.datasets (owner_id, name, slug, description, data_type, record_schema)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING dataset_id, dataset_uuid::text, status, created_at, updated_at
`
	row := p.QueryRow(ctx, q,
		d.OwnerID,
		d.Name,
		d.Slug,
		d.Description,
		d.DataType,
		nullableJSON(d.RecordSchema),
	)
	if err := row.Scan(&d.DatasetID, &d.DatasetUUID, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

// AdjustValidationCount moves the approved-contribution counter by delta,
// floored at zero. Called exactly once per status transition into or out of
// approved.
func (p *Pool) AdjustValidationCount(ctx context.Context, datasetID int64, delta int) error {
	if delta == 0 {
		return nil
	}

	const q = `
UPDATE crowd.datasets
SET validation_count = GREATEST(0, validation_count + $2), updated_at = now()
WHERE dataset_id = $1
`
	tag, err := p.Exec(ctx, q, datasetID, delta)
	if err != nil {
		return fmt.Errorf("adjust dataset %d validation count by %d: %w", datasetID, delta, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// ReconcileDatasetCounters recomputes both counters from the contribution
// table. This is the only wholesale recomputation path; normal operation is
// incremental.
func (p *Pool) ReconcileDatasetCounters(ctx context.Context, datasetID int64) (Dataset, error) {
	q := fmt.Sprintf(`
UPDATE crowd.datasets d
SET contribution_count = src.contributions,
	validation_count = src.approved,
	updated_at = now()
FROM (
	SELECT
		COUNT(*) FILTER (WHERE deleted_at IS NULL) AS contributions,
		COUNT(*) FILTER (WHERE deleted_at IS NULL AND validation_status = 'approved') AS approved
	FROM crowd.contributions
	WHERE dataset_id = $1
) src
WHERE d.dataset_id = $1
RETURNING %s
`, qualifyDatasetColumns("d"))

	d, err := scanDataset(p.QueryRow(ctx, q, datasetID))
	if err != nil {
		if IsNoRows(err) {
			return Dataset{}, err
		}
		return Dataset{}, fmt.Errorf("reconcile dataset %d counters: %w", datasetID, err)
	}
	return d, nil
}

func qualifyDatasetColumns(alias string) string {
	return qualifyColumns(alias, datasetColumns)
}
