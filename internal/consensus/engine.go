package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"horse.fit/paddock/internal/db"
	"horse.fit/paddock/internal/notify"
)

var (
	// ErrSelfValidation rejects a validator judging their own contribution.
	ErrSelfValidation = errors.New("validators cannot judge their own contribution")

	// ErrDuplicateValidator rejects a second active judgment from the same
	// validator on the same contribution.
	ErrDuplicateValidator = errors.New("validator already has an active judgment for this contribution")

	// ErrContributionInactive rejects judgments on soft-deleted contributions.
	ErrContributionInactive = errors.New("contribution is not active")

	// ErrValidationWithdrawn rejects edits to a withdrawn judgment.
	ErrValidationWithdrawn = errors.New("validation has been withdrawn")
)

// Store is the durable-store surface the engine needs. *db.Pool implements it.
type Store interface {
	GetContribution(ctx context.Context, contributionID int64) (db.Contribution, error)
	SetContributionStatus(ctx context.Context, contributionID int64, status db.ValidationStatus) error
	GetValidation(ctx context.Context, validationID int64) (db.Validation, error)
	InsertValidation(ctx context.Context, v *db.Validation) error
	UpdateValidationRow(ctx context.Context, v *db.Validation) error
	SoftDeleteValidation(ctx context.Context, validationID int64) (bool, error)
	ActiveValidations(ctx context.Context, contributionID int64) ([]db.Validation, error)
	HasActiveValidation(ctx context.Context, contributionID, validatorID int64) (bool, error)
	AdjustValidationCount(ctx context.Context, datasetID int64, delta int) error
}

// Engine aggregates peer judgments into the authoritative contribution
// status. Recomputation for a given contribution is serialized through a
// per-id mutex, so concurrent judgments cannot interleave read-then-write
// cycles and desynchronize the stored status from the validation set.
type Engine struct {
	store    Store
	notifier notify.Sink
	logger   zerolog.Logger

	mu    sync.Mutex
	locks map[int64]*contributionLock
}

type contributionLock struct {
	sync.Mutex
	refs int
}

func NewEngine(store Store, notifier notify.Sink, logger zerolog.Logger) *Engine {
	if notifier == nil {
		notifier = notify.NopSink{}
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		logger:   logger,
		locks:    make(map[int64]*contributionLock),
	}
}

// lockContribution acquires the per-contribution mutex. The returned func
// releases it and drops the map entry once no goroutine holds a reference.
func (e *Engine) lockContribution(contributionID int64) func() {
	e.mu.Lock()
	lock, ok := e.locks[contributionID]
	if !ok {
		lock = &contributionLock{}
		e.locks[contributionID] = lock
	}
	lock.refs++
	e.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		e.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(e.locks, contributionID)
		}
		e.mu.Unlock()
	}
}

// Result reports the outcome of one consensus-affecting operation.
type Result struct {
	Validation          db.Validation       `json:"validation"`
	ContributionChanged bool                `json:"contribution_changed"`
	NewStatus           db.ValidationStatus `json:"new_status"`
}

// RecordValidation inserts a new judgment and recomputes consensus.
func (e *Engine) RecordValidation(ctx context.Context, v db.Validation) (Result, error) {
	unlock := e.lockContribution(v.ContributionID)
	defer unlock()

	contribution, err := e.store.GetContribution(ctx, v.ContributionID)
	if err != nil {
		return Result{}, err
	}
	if !contribution.IsActive() {
		return Result{}, ErrContributionInactive
	}
	if v.ValidatorID == contribution.ContributorID {
		return Result{}, ErrSelfValidation
	}

	exists, err := e.store.HasActiveValidation(ctx, v.ContributionID, v.ValidatorID)
	if err != nil {
		return Result{}, err
	}
	if exists {
		return Result{}, ErrDuplicateValidator
	}

	if err := e.store.InsertValidation(ctx, &v); err != nil {
		return Result{}, err
	}

	changed, newStatus, err := e.recompute(ctx, &contribution)
	if err != nil {
		return Result{}, err
	}
	return Result{Validation: v, ContributionChanged: changed, NewStatus: newStatus}, nil
}

// UpdateValidation rewrites an existing judgment's mutable fields and
// recomputes consensus. Only the owning validator may edit; ownership is the
// caller's concern, identity immutability is enforced here.
func (e *Engine) UpdateValidation(ctx context.Context, validationID int64, status db.JudgmentStatus, confidence *float64, notes string, criteria []byte, timeSpentSeconds int) (Result, error) {
	existing, err := e.store.GetValidation(ctx, validationID)
	if err != nil {
		return Result{}, err
	}
	if existing.DeletedAt != nil {
		return Result{}, ErrValidationWithdrawn
	}

	unlock := e.lockContribution(existing.ContributionID)
	defer unlock()

	contribution, err := e.store.GetContribution(ctx, existing.ContributionID)
	if err != nil {
		return Result{}, err
	}
	if !contribution.IsActive() {
		return Result{}, ErrContributionInactive
	}

	existing.Status = status
	existing.Confidence = confidence
	existing.Notes = notes
	existing.Criteria = criteria
	existing.TimeSpentSeconds = timeSpentSeconds
	if err := e.store.UpdateValidationRow(ctx, &existing); err != nil {
		return Result{}, err
	}

	changed, newStatus, err := e.recompute(ctx, &contribution)
	if err != nil {
		return Result{}, err
	}
	return Result{Validation: existing, ContributionChanged: changed, NewStatus: newStatus}, nil
}

// DeleteValidation withdraws a judgment and recomputes consensus with it
// excluded. Losing quorum can revert the contribution to pending.
func (e *Engine) DeleteValidation(ctx context.Context, validationID int64) (Result, error) {
	existing, err := e.store.GetValidation(ctx, validationID)
	if err != nil {
		return Result{}, err
	}
	if existing.DeletedAt != nil {
		return Result{}, ErrValidationWithdrawn
	}

	unlock := e.lockContribution(existing.ContributionID)
	defer unlock()

	contribution, err := e.store.GetContribution(ctx, existing.ContributionID)
	if err != nil {
		return Result{}, err
	}
	if !contribution.IsActive() {
		return Result{}, ErrContributionInactive
	}

	deleted, err := e.store.SoftDeleteValidation(ctx, validationID)
	if err != nil {
		return Result{}, err
	}
	if !deleted {
		return Result{}, ErrValidationWithdrawn
	}

	changed, newStatus, err := e.recompute(ctx, &contribution)
	if err != nil {
		return Result{}, err
	}
	return Result{Validation: existing, ContributionChanged: changed, NewStatus: newStatus}, nil
}

// Recompute re-derives the status from the current validation set without
// touching any judgment. Exposed for administrative reconciliation.
func (e *Engine) Recompute(ctx context.Context, contributionID int64) (bool, db.ValidationStatus, error) {
	unlock := e.lockContribution(contributionID)
	defer unlock()

	contribution, err := e.store.GetContribution(ctx, contributionID)
	if err != nil {
		return false, "", err
	}
	if !contribution.IsActive() {
		return false, contribution.ValidationStatus, ErrContributionInactive
	}
	return e.recompute(ctx, &contribution)
}

// recompute must run under the contribution's lock.
func (e *Engine) recompute(ctx context.Context, contribution *db.Contribution) (bool, db.ValidationStatus, error) {
	validations, err := e.store.ActiveValidations(ctx, contribution.ContributionID)
	if err != nil {
		return false, contribution.ValidationStatus, err
	}

	target := resolveStatus(contribution.ValidationStatus, validations)
	if target == contribution.ValidationStatus {
		return false, target, nil
	}

	if err := e.store.SetContributionStatus(ctx, contribution.ContributionID, target); err != nil {
		return false, contribution.ValidationStatus, err
	}

	if err := e.adjustCounter(ctx, contribution, target); err != nil {
		return false, contribution.ValidationStatus, err
	}

	e.logger.Info().
		Int64("contribution_id", contribution.ContributionID).
		Str("from", string(contribution.ValidationStatus)).
		Str("to", string(target)).
		Int("active_validations", len(validations)).
		Msg("contribution status changed")

	e.notifier.Publish(ctx, notify.NewEvent(notify.EventStatusChanged, contribution.DatasetID, contribution.ContributionID, map[string]any{
		"from": string(contribution.ValidationStatus),
		"to":   string(target),
	}))

	contribution.ValidationStatus = target
	return true, target, nil
}

func (e *Engine) adjustCounter(ctx context.Context, contribution *db.Contribution, target db.ValidationStatus) error {
	delta := 0
	if target == db.StatusApproved {
		delta = 1
	} else if contribution.ValidationStatus == db.StatusApproved {
		delta = -1
	}
	if delta == 0 {
		return nil
	}
	if err := e.store.AdjustValidationCount(ctx, contribution.DatasetID, delta); err != nil {
		return fmt.Errorf("adjust validation count after status change: %w", err)
	}
	return nil
}
