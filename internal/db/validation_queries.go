package db

import (
	"context"
	"fmt"
)

const validationColumns = `
	validation_id,
	validation_uuid::text,
	contribution_id,
	validator_id,
	status,
	confidence,
	notes,
	criteria,
	time_spent_seconds,
	deleted_at,
	created_at,
	updated_at`

func scanValidation(row interface{ Scan(dest ...any) error }) (Validation, error) {
	var (
		v        Validation
		criteria []byte
	)
	err := row.Scan(
		&v.ValidationID,
		&v.ValidationUUID,
		&v.ContributionID,
		&v.ValidatorID,
		&v.Status,
		&v.Confidence,
		&v.Notes,
		&criteria,
		&v.TimeSpentSeconds,
		&v.DeletedAt,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return Validation{}, err
	}
	v.Criteria = criteria
	return v, nil
}

// GetValidation loads one validation row, soft-deleted rows included.
func (p *Pool) GetValidation(ctx context.Context, validationID int64) (Validation, error) {
	q := fmt.Sprintf(`SELECT %s FROM crowd.validations WHERE validation_id = $1`, validationColumns)

	v, err := scanValidation(p.QueryRow(ctx, q, validationID))
	if err != nil {
		if IsNoRows(err) {
			return Validation{}, err
		}
		return Validation{}, fmt.Errorf("get validation %d: %w", validationID, err)
	}
	return v, nil
}

// InsertValidation inserts a judgment and fills in generated identifiers.
func (p *Pool) InsertValidation(ctx context.Context, v *Validation) error {
	if v == nil {
		return fmt.Errorf("validation is nil")
	}

	const q = `
INSERT INTO crowd.validations (
	contribution_id,
	validator_id,
	status,
	confidence,
	notes,
	criteria,
	time_spent_seconds
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING validation_id, validation_uuid::text, created_at, updated_at
`

	row := p.QueryRow(ctx, q,
		v.ContributionID,
		v.ValidatorID,
		v.Status,
		v.Confidence,
		v.Notes,
		nullableJSON(v.Criteria),
		v.TimeSpentSeconds,
	)
	if err := row.Scan(&v.ValidationID, &v.ValidationUUID, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return fmt.Errorf("insert validation: %w", err)
	}
	return nil
}

// UpdateValidationRow rewrites the mutable judgment fields.
func (p *Pool) UpdateValidationRow(ctx context.Context, v *Validation) error {
	if v == nil {
		return fmt.Errorf("validation is nil")
	}

	const q = `
UPDATE crowd.validations
SET status = $2,
	confidence = $3,
	notes = $4,
	criteria = $5,
	time_spent_seconds = $6,
	updated_at = now()
WHERE validation_id = $1
  AND deleted_at IS NULL
`
	tag, err := p.Exec(ctx, q,
		v.ValidationID,
		v.Status,
		v.Confidence,
		v.Notes,
		nullableJSON(v.Criteria),
		v.TimeSpentSeconds,
	)
	if err != nil {
		return fmt.Errorf("update validation %d: %w", v.ValidationID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// SoftDeleteValidation marks a judgment withdrawn. Returns false when the row
// was already deleted or missing.
func (p *Pool) SoftDeleteValidation(ctx context.Context, validationID int64) (bool, error) {
	const q = `
UPDATE crowd.validations
SET deleted_at = now(), updated_at = now()
WHERE validation_id = $1
  AND deleted_at IS NULL
`
	tag, err := p.Exec(ctx, q, validationID)
	if err != nil {
		return false, fmt.Errorf("soft-delete validation %d: %w", validationID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ActiveValidations lists all active judgments for a contribution.
func (p *Pool) ActiveValidations(ctx context.Context, contributionID int64) ([]Validation, error) {
	q := fmt.Sprintf(`
SELECT %s
FROM crowd.validations
WHERE contribution_id = $1
  AND deleted_at IS NULL
ORDER BY validation_id
`, validationColumns)

	rows, err := p.Query(ctx, q, contributionID)
	if err != nil {
		return nil, fmt.Errorf("list active validations for contribution %d: %w", contributionID, err)
	}
	defer rows.Close()

	var validations []Validation
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan validation: %w", err)
		}
		validations = append(validations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validations: %w", err)
	}
	return validations, nil
}

// HasActiveValidation reports whether the validator already judged the contribution.
func (p *Pool) HasActiveValidation(ctx context.Context, contributionID, validatorID int64) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1
	FROM crowd.validations
	WHERE contribution_id = $1
	  AND validator_id = $2
	  AND deleted_at IS NULL
)
`
	var exists bool
	if err := p.QueryRow(ctx, q, contributionID, validatorID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check active validation: %w", err)
	}
	return exists, nil
}
