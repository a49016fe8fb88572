package consensus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/paddock/internal/db"
)

type memStore struct {
	mu sync.Mutex

	contributions map[int64]*db.Contribution
	validations   map[int64]*db.Validation
	counters      map[int64]int
	nextID        int64
}

func newMemStore() *memStore {
	return &memStore{
		contributions: make(map[int64]*db.Contribution),
		validations:   make(map[int64]*db.Validation),
		counters:      make(map[int64]int),
		nextID:        1,
	}
}

func (s *memStore) addContribution(id, datasetID, contributorID int64) {
	s.contributions[id] = &db.Contribution{
		ContributionID:   id,
		DatasetID:        datasetID,
		ContributorID:    contributorID,
		ValidationStatus: db.StatusPending,
	}
}

func (s *memStore) GetContribution(_ context.Context, id int64) (db.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contributions[id]
	if !ok {
		return db.Contribution{}, db.ErrNoRows
	}
	return *c, nil
}

func (s *memStore) SetContributionStatus(_ context.Context, id int64, status db.ValidationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contributions[id]
	if !ok {
		return db.ErrNoRows
	}
	c.ValidationStatus = status
	return nil
}

func (s *memStore) GetValidation(_ context.Context, id int64) (db.Validation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.validations[id]
	if !ok {
		return db.Validation{}, db.ErrNoRows
	}
	return *v, nil
}

func (s *memStore) InsertValidation(_ context.Context, v *db.Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ValidationID = s.nextID
	s.nextID++
	stored := *v
	s.validations[v.ValidationID] = &stored
	return nil
}

func (s *memStore) UpdateValidationRow(_ context.Context, v *db.Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.validations[v.ValidationID]
	if !ok || stored.DeletedAt != nil {
		return db.ErrNoRows
	}
	stored.Status = v.Status
	stored.Confidence = v.Confidence
	stored.Notes = v.Notes
	stored.Criteria = v.Criteria
	stored.TimeSpentSeconds = v.TimeSpentSeconds
	return nil
}

func (s *memStore) SoftDeleteValidation(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.validations[id]
	if !ok || stored.DeletedAt != nil {
		return false, nil
	}
	now := time.Now()
	stored.DeletedAt = &now
	return true, nil
}

func (s *memStore) ActiveValidations(_ context.Context, contributionID int64) ([]db.Validation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []db.Validation
	for id := int64(1); id < s.nextID; id++ {
		v, ok := s.validations[id]
		if ok && v.ContributionID == contributionID && v.DeletedAt == nil {
			active = append(active, *v)
		}
	}
	return active, nil
}

func (s *memStore) HasActiveValidation(_ context.Context, contributionID, validatorID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.validations {
		if v.ContributionID == contributionID && v.ValidatorID == validatorID && v.DeletedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) AdjustValidationCount(_ context.Context, datasetID int64, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.counters[datasetID] + delta
	if next < 0 {
		next = 0
	}
	s.counters[datasetID] = next
	return nil
}

func (s *memStore) softDeleteContribution(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contributions[id]; ok {
		now := time.Now()
		c.DeletedAt = &now
	}
}

func (s *memStore) approvedActive(datasetID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, c := range s.contributions {
		if c.DatasetID == datasetID && c.DeletedAt == nil && c.ValidationStatus == db.StatusApproved {
			count++
		}
	}
	return count
}

func floatPtr(f float64) *float64 { return &f }

func judgment(contributionID, validatorID int64, status db.JudgmentStatus, confidence *float64) db.Validation {
	return db.Validation{
		ContributionID: contributionID,
		ValidatorID:    validatorID,
		Status:         status,
		Confidence:     confidence,
	}
}

func newTestEngine(store Store) *Engine {
	return NewEngine(store, nil, zerolog.Nop())
}

func TestMajorityApproves(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addContribution(1, 10, 100)
	e := newTestEngine(store)
	ctx := context.Background()

	if _, err := e.RecordValidation(ctx, judgment(1, 201, db.JudgmentApproved, nil)); err != nil {
		t.Fatalf("first judgment: %v", err)
	}
	if _, err := e.RecordValidation(ctx, judgment(1, 202, db.JudgmentApproved, nil)); err != nil {
		t.Fatalf("second judgment: %v", err)
	}
	result, err := e.RecordValidation(ctx, judgment(1, 203, db.JudgmentRejected, nil))
	if err != nil {
		t.Fatalf("third judgment: %v", err)
	}

	// 2/3 approved = 0.667, clears the 0.6 quorum.
	if result.NewStatus != db.StatusApproved {
		t.Fatalf("expected approved, got %q", result.NewStatus)
	}
	if store.counters[10] != 1 {
		t.Fatalf("expected counter 1, got %d", store.counters[10])
	}
}

func TestEvenSplitHasNoQuorum(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addContribution(1, 10, 100)
	e := newTestEngine(store)
	ctx := context.Background()

	if _, err := e.RecordValidation(ctx, judgment(1, 201, db.JudgmentApproved, nil)); err != nil {
		t.Fatalf("first judgment: %v", err)
	}
	result, err := e.RecordValidation(ctx, judgment(1, 202, db.JudgmentRejected, nil))
	if err != nil {
		t.Fatalf("second judgment: %v", err)
	}

	if result.ContributionChanged || result.NewStatus != db.StatusPending {
		t.Fatalf("50/50 split must not move the status, got %+v", result)
	}
	if store.counters[10] != 0 {
		t.Fatalf("expected counter 0, got %d", store.counters[10])
	}
}

func TestSingleLowConfidenceStaysPending(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addContribution(1, 10, 100)
	e := newTestEngine(store)

	result, err := e.RecordValidation(context.Background(), judgment(1, 201, db.JudgmentApproved, floatPtr(0.5)))
	if err != nil {
		t.Fatalf("judgment: %v", err)
	}
	if result.ContributionChanged || result.NewStatus != db.StatusPending {
		t.Fatalf("low-confidence single judgment must not move the status, got %+v", result)
	}
}

func TestSingleHighConfidenceRejects(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addContribution(1, 10, 100)
	e := newTestEngine(store)

	result, err := e.RecordValidation(context.Background(), judgment(1, 201, db.JudgmentRejected, floatPtr(0.9)))
	if err != nil {
		t.Fatalf("judgment: %v", err)
	}
	if !result.ContributionChanged || result.NewStatus != db.StatusRejected {
		t.Fatalf("expected rejected, got %+v", result)
	}
}

func TestSelfValidationRejectedBeforeWrite(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addContribution(1, 10, 100)
	e := newTestEngine(store)

	_, err := e.RecordValidation(context.Background(), judgment(1, 100, db.JudgmentApproved, floatPtr(1)))
	if !errors.Is(err, ErrSelfValidation) {
		t.Fatalf("expected ErrSelfValidation, got %v", err)
	}
	if len(store.validations) != 0 {
		t.Fatalf("no row may be written on precondition failure")
	}
}

func TestDuplicateValidatorRejected(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addContribution(1, 10, 100)
	e := newTestEngine(store)
	ctx := context.Background()

	if _, err := e.RecordValidation(ctx, judgment(1, 201, db.JudgmentApproved, nil)); err != nil {
		t.Fatalf("first judgment: %v", err)
	}
	if _, err := e.RecordValidation(ctx, judgment(1, 201, db.JudgmentRejected, nil)); !errors.Is(err, ErrDuplicateValidator) {
		t.Fatalf("expected ErrDuplicateValidator, got %v", err)
	}
	if len(store.validations) != 1 {
		t.Fatalf("expected a single row, got %d", len(store.validations))
	}
}

func TestDeleteRevertsToPending(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addContribution(1, 10, 100)
	e := newTestEngine(store)
	ctx := context.Background()

	result, err := e.RecordValidation(ctx, judgment(1, 201, db.JudgmentApproved, floatPtr(0.95)))
	if err != nil {
		t.Fatalf("judgment: %v", err)
	}
	if result.NewStatus != db.StatusApproved || store.counters[10] != 1 {
		t.Fatalf("setup failed: %+v counter=%d", result, store.counters[10])
	}

	deleted, err := e.DeleteValidation(ctx, result.Validation.ValidationID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted.ContributionChanged || deleted.NewStatus != db.StatusPending {
		t.Fatalf("expected revert to pending, got %+v", deleted)
	}
	if store.counters[10] != 0 {
		t.Fatalf("expected counter back to 0, got %d", store.counters[10])
	}

	if _, err := e.DeleteValidation(ctx, result.Validation.ValidationID); !errors.Is(err, ErrValidationWithdrawn) {
		t.Fatalf("expected ErrValidationWithdrawn on double delete, got %v", err)
	}
}

func TestUpdateFlipsConsensus(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addContribution(1, 10, 100)
	e := newTestEngine(store)
	ctx := context.Background()

	result, err := e.RecordValidation(ctx, judgment(1, 201, db.JudgmentApproved, floatPtr(0.9)))
	if err != nil {
		t.Fatalf("judgment: %v", err)
	}
	if result.NewStatus != db.StatusApproved {
		t.Fatalf("setup failed: %+v", result)
	}

	updated, err := e.UpdateValidation(ctx, result.Validation.ValidationID, db.JudgmentRejected, floatPtr(0.9), "changed my mind", nil, 30)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.ContributionChanged || updated.NewStatus != db.StatusRejected {
		t.Fatalf("expected flip to rejected, got %+v", updated)
	}
	if store.counters[10] != 0 {
		t.Fatalf("expected counter back to 0, got %d", store.counters[10])
	}
}

func TestUpdateOnDeletedContributionRejected(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addContribution(1, 10, 100)
	e := newTestEngine(store)
	ctx := context.Background()

	result, err := e.RecordValidation(ctx, judgment(1, 201, db.JudgmentApproved, floatPtr(0.5)))
	if err != nil {
		t.Fatalf("judgment: %v", err)
	}
	if result.ContributionChanged {
		t.Fatalf("setup failed: %+v", result)
	}

	store.softDeleteContribution(1)

	_, err = e.UpdateValidation(ctx, result.Validation.ValidationID, db.JudgmentApproved, floatPtr(0.9), "", nil, 0)
	if !errors.Is(err, ErrContributionInactive) {
		t.Fatalf("expected ErrContributionInactive, got %v", err)
	}

	c, err := store.GetContribution(ctx, 1)
	if err != nil {
		t.Fatalf("get contribution: %v", err)
	}
	if c.ValidationStatus != db.StatusPending {
		t.Fatalf("deleted contribution must keep its status, got %q", c.ValidationStatus)
	}
	if store.counters[10] != 0 {
		t.Fatalf("counter must not move for a deleted contribution, got %d", store.counters[10])
	}
}

func TestDeleteJudgmentOnDeletedContributionRejected(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addContribution(1, 10, 100)
	e := newTestEngine(store)
	ctx := context.Background()

	result, err := e.RecordValidation(ctx, judgment(1, 201, db.JudgmentApproved, floatPtr(0.9)))
	if err != nil {
		t.Fatalf("judgment: %v", err)
	}
	if result.NewStatus != db.StatusApproved || store.counters[10] != 1 {
		t.Fatalf("setup failed: %+v counter=%d", result, store.counters[10])
	}

	// The contribution delete path releases the approved slot itself.
	store.softDeleteContribution(1)
	if err := store.AdjustValidationCount(ctx, 10, -1); err != nil {
		t.Fatalf("release slot: %v", err)
	}

	if _, err := e.DeleteValidation(ctx, result.Validation.ValidationID); !errors.Is(err, ErrContributionInactive) {
		t.Fatalf("expected ErrContributionInactive, got %v", err)
	}
	if store.counters[10] != 0 {
		t.Fatalf("withdrawing a judgment on a deleted contribution must not move the counter, got %d", store.counters[10])
	}
	if v, err := store.GetValidation(ctx, result.Validation.ValidationID); err != nil || v.DeletedAt != nil {
		t.Fatalf("judgment must stay untouched on precondition failure: %+v err=%v", v, err)
	}
}

func TestRecomputeSkipsDeletedContribution(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addContribution(1, 10, 100)
	e := newTestEngine(store)
	ctx := context.Background()

	if _, err := e.RecordValidation(ctx, judgment(1, 201, db.JudgmentApproved, floatPtr(0.5))); err != nil {
		t.Fatalf("judgment: %v", err)
	}
	store.softDeleteContribution(1)

	changed, status, err := e.Recompute(ctx, 1)
	if !errors.Is(err, ErrContributionInactive) {
		t.Fatalf("expected ErrContributionInactive, got %v", err)
	}
	if changed || status != db.StatusPending {
		t.Fatalf("deleted contribution must stay put, got changed=%v status=%q", changed, status)
	}
}

func TestCounterInvariantOverSequence(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addContribution(1, 10, 100)
	store.addContribution(2, 10, 100)
	e := newTestEngine(store)
	ctx := context.Background()

	check := func(step string) {
		t.Helper()
		if got, want := store.counters[10], store.approvedActive(10); got != want {
			t.Fatalf("%s: counter %d, approved contributions %d", step, got, want)
		}
	}

	r1, err := e.RecordValidation(ctx, judgment(1, 201, db.JudgmentApproved, floatPtr(0.9)))
	if err != nil {
		t.Fatalf("approve c1: %v", err)
	}
	check("approve c1")

	if _, err := e.RecordValidation(ctx, judgment(2, 201, db.JudgmentApproved, floatPtr(0.85))); err != nil {
		t.Fatalf("approve c2: %v", err)
	}
	check("approve c2")

	if _, err := e.UpdateValidation(ctx, r1.Validation.ValidationID, db.JudgmentNeedsReview, floatPtr(0.9), "", nil, 0); err != nil {
		t.Fatalf("update c1 judgment: %v", err)
	}
	check("needs_review c1")

	if _, err := e.RecordValidation(ctx, judgment(1, 202, db.JudgmentRejected, nil)); err != nil {
		t.Fatalf("reject c1: %v", err)
	}
	check("reject c1")
}

func TestConcurrentJudgmentsStayConsistent(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addContribution(1, 10, 100)
	e := newTestEngine(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		validatorID := int64(200 + i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.RecordValidation(ctx, judgment(1, validatorID, db.JudgmentApproved, floatPtr(0.9)))
			if err != nil {
				t.Errorf("validator %d: %v", validatorID, err)
			}
		}()
	}
	wg.Wait()

	c, err := store.GetContribution(ctx, 1)
	if err != nil {
		t.Fatalf("get contribution: %v", err)
	}
	if c.ValidationStatus != db.StatusApproved {
		t.Fatalf("expected approved after unanimous judgments, got %q", c.ValidationStatus)
	}
	if got, want := store.counters[10], store.approvedActive(10); got != want {
		t.Fatalf("counter %d diverged from approved contributions %d", got, want)
	}
}
