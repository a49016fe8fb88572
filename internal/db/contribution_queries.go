package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ContributionSummary is the public view attached to duplicate matches.
type ContributionSummary struct {
	ContributionID   int64            `json:"contribution_id"`
	ContributionUUID string           `json:"contribution_uuid"`
	DatasetID        int64            `json:"dataset_id"`
	ContributorID    int64            `json:"contributor_id"`
	DataType         DataType         `json:"data_type"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

const contributionColumns = `
	contribution_id,
	contribution_uuid::text,
	dataset_id,
	contributor_id,
	data_type,
	content,
	description,
	tags,
	annotations,
	language,
	validation_status,
	deleted_at,
	created_at,
	updated_at`

func scanContribution(row interface{ Scan(dest ...any) error }) (Contribution, error) {
	var (
		c           Contribution
		content     []byte
		tags        []byte
		annotations []byte
	)
	err := row.Scan(
		&c.ContributionID,
		&c.ContributionUUID,
		&c.DatasetID,
		&c.ContributorID,
		&c.DataType,
		&content,
		&c.Description,
		&tags,
		&annotations,
		&c.Language,
		&c.ValidationStatus,
		&c.DeletedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Contribution{}, err
	}
	c.Content = content
	c.Tags = tags
	c.Annotations = annotations
	return c, nil
}

// GetContribution loads one contribution row, soft-deleted rows included.
func (p *Pool) GetContribution(ctx context.Context, contributionID int64) (Contribution, error) {
	q := fmt.Sprintf(`SELECT %s FROM crowd.contributions WHERE contribution_id = $1`, contributionColumns)

	c, err := scanContribution(p.QueryRow(ctx, q, contributionID))
	if err != nil {
		if IsNoRows(err) {
			return Contribution{}, err
		}
		return Contribution{}, fmt.Errorf("get contribution %d: %w", contributionID, err)
	}
	return c, nil
}

// CreateContribution inserts a row and fills in the generated identifiers.
func (p *Pool) CreateContribution(ctx context.Context, c *Contribution) error {
	if c == nil {
		return fmt.Errorf("contribution is nil")
	}

	const q = `
INSERT INTO crowd.contributions (
	dataset_id,
	contributor_id,
	data_type,
	content,
	description,
	tags,
	annotations,
	language,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
RETURNING contribution_id, contribution_uuid::text, validation_status, created_at, updated_at
`

	now := c.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	row := p.QueryRow(ctx, q,
		c.DatasetID,
		c.ContributorID,
		c.DataType,
		[]byte(c.Content),
		c.Description,
		nullableJSON(c.Tags),
		nullableJSON(c.Annotations),
		c.Language,
		now,
	)
	if err := row.Scan(&c.ContributionID, &c.ContributionUUID, &c.ValidationStatus, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return fmt.Errorf("insert contribution: %w", err)
	}

	const bump = `
UPDATE crowd.datasets
SET contribution_count = contribution_count + 1, updated_at = now()
WHERE dataset_id = $1
`
	if _, err := p.Exec(ctx, bump, c.DatasetID); err != nil {
		return fmt.Errorf("bump dataset %d contribution count: %w", c.DatasetID, err)
	}
	return nil
}

// SetContributionStatus writes the authoritative consensus status.
func (p *Pool) SetContributionStatus(ctx context.Context, contributionID int64, status ValidationStatus) error {
	const q = `
UPDATE crowd.contributions
SET validation_status = $2, updated_at = now()
WHERE contribution_id = $1
`
	tag, err := p.Exec(ctx, q, contributionID, status)
	if err != nil {
		return fmt.Errorf("set contribution %d status: %w", contributionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// SoftDeleteContribution marks a contribution inactive and, when it held
// approved status, releases its slot in the dataset counter. Both writes share
// one transaction so the counter cannot drift if either fails. Returns false
// when the contribution was already deleted or missing.
func (p *Pool) SoftDeleteContribution(ctx context.Context, c *Contribution) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("contribution is nil")
	}

	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin soft-delete transaction: %w", err)
	}

	const q = `
UPDATE crowd.contributions
SET deleted_at = now(), updated_at = now()
WHERE contribution_id = $1
  AND deleted_at IS NULL
`
	tag, err := tx.Exec(ctx, q, c.ContributionID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return false, fmt.Errorf("soft-delete contribution %d: %w", c.ContributionID, err)
	}
	if tag.RowsAffected() != 1 {
		_ = tx.Rollback(ctx)
		return false, nil
	}

	if c.ValidationStatus == StatusApproved {
		const release = `
UPDATE crowd.datasets
SET validation_count = GREATEST(0, validation_count - 1), updated_at = now()
WHERE dataset_id = $1
`
		if _, err := tx.Exec(ctx, release, c.DatasetID); err != nil {
			_ = tx.Rollback(ctx)
			return false, fmt.Errorf("release approved slot for dataset %d: %w", c.DatasetID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit soft-delete for contribution %d: %w", c.ContributionID, err)
	}
	return true, nil
}

// ActiveContributionIDs lists the dataset's active contribution ids in
// ascending order. Feeds administrative reconciliation.
func (p *Pool) ActiveContributionIDs(ctx context.Context, datasetID int64) ([]int64, error) {
	const q = `
SELECT contribution_id
FROM crowd.contributions
WHERE dataset_id = $1
  AND deleted_at IS NULL
ORDER BY contribution_id
`
	rows, err := p.Query(ctx, q, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list active contributions for dataset %d: %w", datasetID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contribution id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contribution ids: %w", err)
	}
	return ids, nil
}

// ValidatedBy lists validator ids with an active judgment on the contribution.
func (p *Pool) ValidatedBy(ctx context.Context, contributionID int64) ([]int64, error) {
	const q = `
SELECT validator_id
FROM crowd.validations
WHERE contribution_id = $1
  AND deleted_at IS NULL
ORDER BY validator_id
`
	rows, err := p.Query(ctx, q, contributionID)
	if err != nil {
		return nil, fmt.Errorf("list validators for contribution %d: %w", contributionID, err)
	}
	defer rows.Close()

	var validators []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan validator id: %w", err)
		}
		validators = append(validators, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validator ids: %w", err)
	}
	return validators, nil
}

// ContributionSummaries loads public summaries for the given ids.
func (p *Pool) ContributionSummaries(ctx context.Context, ids []int64) (map[int64]ContributionSummary, error) {
	summaries := make(map[int64]ContributionSummary, len(ids))
	if len(ids) == 0 {
		return summaries, nil
	}

	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, id)
	}

	q := fmt.Sprintf(`
SELECT
	contribution_id,
	contribution_uuid::text,
	dataset_id,
	contributor_id,
	data_type,
	validation_status,
	created_at,
	updated_at
FROM crowd.contributions
WHERE contribution_id IN (%s)
`, strings.Join(placeholders, ", "))

	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("load contribution summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s ContributionSummary
		if err := rows.Scan(
			&s.ContributionID,
			&s.ContributionUUID,
			&s.DatasetID,
			&s.ContributorID,
			&s.DataType,
			&s.ValidationStatus,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan contribution summary: %w", err)
		}
		summaries[s.ContributionID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contribution summaries: %w", err)
	}
	return summaries, nil
}

// ListMissingEmbeddingContributions returns active contributions without a
// stored embedding, oldest first, optionally scoped to one dataset.
func (p *Pool) ListMissingEmbeddingContributions(ctx context.Context, datasetID *int64, limit int) ([]Contribution, error) {
	if limit <= 0 {
		limit = 100
	}

	q := fmt.Sprintf(`
SELECT %s
FROM crowd.contributions c
WHERE c.deleted_at IS NULL
  AND ($1::bigint IS NULL OR c.dataset_id = $1)
  AND NOT EXISTS (
	SELECT 1
	FROM crowd.contribution_embeddings ce
	WHERE ce.contribution_id = c.contribution_id
  )
ORDER BY c.contribution_id
LIMIT $2
`, qualifyContributionColumns("c"))

	rows, err := p.Query(ctx, q, datasetID, limit)
	if err != nil {
		return nil, fmt.Errorf("list contributions missing embeddings: %w", err)
	}
	defer rows.Close()

	contributions := make([]Contribution, 0, limit)
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		contributions = append(contributions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}
	return contributions, nil
}

// CountActiveContributions counts active contributions, optionally per dataset.
func (p *Pool) CountActiveContributions(ctx context.Context, datasetID *int64) (int64, error) {
	const q = `
SELECT COUNT(*)
FROM crowd.contributions
WHERE deleted_at IS NULL
  AND ($1::bigint IS NULL OR dataset_id = $1)
`
	var count int64
	if err := p.QueryRow(ctx, q, datasetID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active contributions: %w", err)
	}
	return count, nil
}

func qualifyContributionColumns(alias string) string {
	return qualifyColumns(alias, contributionColumns)
}

func qualifyColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func nullableJSON(value []byte) []byte {
	if len(value) == 0 {
		return nil
	}
	return value
}
