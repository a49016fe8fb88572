package httpapi

import (
	"encoding/json"
	"errors"

	"github.com/labstack/echo/v4"

	"horse.fit/paddock/internal/consensus"
	"horse.fit/paddock/internal/db"
)

type validationRequest struct {
	ValidatorID      int64             `json:"validator_id"`
	Status           db.JudgmentStatus `json:"status"`
	Confidence       *float64          `json:"confidence"`
	Notes            string            `json:"notes"`
	Criteria         json.RawMessage   `json:"criteria"`
	TimeSpentSeconds int               `json:"time_spent_seconds"`
}

func (r validationRequest) fieldErrors(requireValidator bool) map[string]string {
	fieldErrors := map[string]string{}
	if requireValidator && r.ValidatorID <= 0 {
		fieldErrors["validator_id"] = "is required"
	}
	switch r.Status {
	case db.JudgmentApproved, db.JudgmentRejected, db.JudgmentNeedsReview:
	default:
		fieldErrors["status"] = "must be approved, rejected, or needs_review"
	}
	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		fieldErrors["confidence"] = "must be between 0 and 1"
	}
	if r.TimeSpentSeconds < 0 {
		fieldErrors["time_spent_seconds"] = "must not be negative"
	}
	if len(fieldErrors) == 0 {
		return nil
	}
	return fieldErrors
}

type validationResponse struct {
	Validation          db.Validation       `json:"validation"`
	ContributionChanged bool                `json:"contribution_changed"`
	NewStatus           db.ValidationStatus `json:"new_status"`
}

func (s *Server) handleRecordValidation(c echo.Context) error {
	contributionID, err := pathID(c, "contribution_id")
	if err != nil {
		return failValidation(c, map[string]string{"contribution_id": err.Error()})
	}

	var req validationRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if fieldErrors := req.fieldErrors(true); fieldErrors != nil {
		return failValidation(c, fieldErrors)
	}

	result, err := s.engine.RecordValidation(c.Request().Context(), db.Validation{
		ContributionID:   contributionID,
		ValidatorID:      req.ValidatorID,
		Status:           req.Status,
		Confidence:       req.Confidence,
		Notes:            req.Notes,
		Criteria:         req.Criteria,
		TimeSpentSeconds: req.TimeSpentSeconds,
	})
	if err != nil {
		return s.consensusError(c, err, contributionID)
	}

	return successWithStatus(c, 201, validationResponse(result))
}

func (s *Server) handleUpdateValidation(c echo.Context) error {
	validationID, err := pathID(c, "validation_id")
	if err != nil {
		return failValidation(c, map[string]string{"validation_id": err.Error()})
	}

	var req validationRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if fieldErrors := req.fieldErrors(false); fieldErrors != nil {
		return failValidation(c, fieldErrors)
	}

	result, err := s.engine.UpdateValidation(c.Request().Context(), validationID, req.Status, req.Confidence, req.Notes, req.Criteria, req.TimeSpentSeconds)
	if err != nil {
		return s.consensusError(c, err, validationID)
	}

	return success(c, validationResponse(result))
}

func (s *Server) handleDeleteValidation(c echo.Context) error {
	validationID, err := pathID(c, "validation_id")
	if err != nil {
		return failValidation(c, map[string]string{"validation_id": err.Error()})
	}

	result, err := s.engine.DeleteValidation(c.Request().Context(), validationID)
	if err != nil {
		return s.consensusError(c, err, validationID)
	}

	return success(c, map[string]any{
		"validation_id":        validationID,
		"deleted":              true,
		"contribution_changed": result.ContributionChanged,
		"new_status":           result.NewStatus,
	})
}

func (s *Server) consensusError(c echo.Context, err error, id int64) error {
	switch {
	case errors.Is(err, consensus.ErrSelfValidation):
		return failConflict(c, "Contributors cannot validate their own contribution")
	case errors.Is(err, consensus.ErrDuplicateValidator):
		return failConflict(c, "Validator already has an active judgment for this contribution")
	case errors.Is(err, consensus.ErrContributionInactive):
		return failNotFound(c, "Contribution not found")
	case errors.Is(err, consensus.ErrValidationWithdrawn):
		return failNotFound(c, "Validation not found")
	case db.IsNoRows(err):
		return failNotFound(c, "Not found")
	default:
		s.logger.Error().Err(err).Int64("id", id).Msg("consensus operation failed")
		return internalError(c, "Failed to process validation")
	}
}
