package httpapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/paddock/internal/db"
	"horse.fit/paddock/internal/dupdetect"
	"horse.fit/paddock/internal/langdetect"
)

type createContributionRequest struct {
	ContributorID int64           `json:"contributor_id"`
	Content       db.Content      `json:"content"`
	Description   string          `json:"description"`
	Tags          json.RawMessage `json:"tags"`
	Annotations   json.RawMessage `json:"annotations"`
}

type contributionResponse struct {
	ContributionID   int64               `json:"contribution_id"`
	ContributionUUID string              `json:"contribution_uuid"`
	DatasetID        int64               `json:"dataset_id"`
	ContributorID    int64               `json:"contributor_id"`
	DataType         db.DataType         `json:"data_type"`
	Content          json.RawMessage     `json:"content"`
	Description      string              `json:"description"`
	Tags             json.RawMessage     `json:"tags,omitempty"`
	Annotations      json.RawMessage     `json:"annotations,omitempty"`
	Language         string              `json:"language,omitempty"`
	ValidationStatus db.ValidationStatus `json:"validation_status"`
	ValidatedBy      []int64             `json:"validated_by,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func contributionToResponse(c *db.Contribution, validatedBy []int64) contributionResponse {
	return contributionResponse{
		ContributionID:   c.ContributionID,
		ContributionUUID: c.ContributionUUID,
		DatasetID:        c.DatasetID,
		ContributorID:    c.ContributorID,
		DataType:         c.DataType,
		Content:          c.Content,
		Description:      c.Description,
		Tags:             c.Tags,
		Annotations:      c.Annotations,
		Language:         c.Language,
		ValidationStatus: c.ValidationStatus,
		ValidatedBy:      validatedBy,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func (s *Server) handleCreateContribution(c echo.Context) error {
	datasetID, err := pathID(c, "dataset_id")
	if err != nil {
		return failValidation(c, map[string]string{"dataset_id": err.Error()})
	}

	var req createContributionRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if req.ContributorID <= 0 {
		return failValidation(c, map[string]string{"contributor_id": "is required"})
	}

	dataset, err := s.pool.GetDataset(c.Request().Context(), datasetID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Dataset not found")
		}
		s.logger.Error().Err(err).Int64("dataset_id", datasetID).Msg("dataset lookup failed")
		return internalError(c, "Failed to load dataset")
	}
	if dataset.DeletedAt != nil {
		return failNotFound(c, "Dataset not found")
	}

	if err := req.Content.Validate(dataset.DataType); err != nil {
		return failValidation(c, map[string]string{"content": err.Error()})
	}

	if dataset.DataType == db.DataTypeStructured && req.Content.Structured != nil {
		if err := s.schemas.ValidateRecord(dataset.RecordSchema, req.Content.Structured.Record); err != nil {
			return failValidation(c, map[string]string{"content.structured.record": err.Error()})
		}
	}

	rawContent, err := json.Marshal(req.Content)
	if err != nil {
		return failValidation(c, map[string]string{"content": "must be valid JSON"})
	}

	contribution := db.Contribution{
		DatasetID:     datasetID,
		ContributorID: req.ContributorID,
		DataType:      dataset.DataType,
		Content:       rawContent,
		Description:   strings.TrimSpace(req.Description),
		Tags:          req.Tags,
		Annotations:   req.Annotations,
		Language:      detectContributionLanguage(dataset.DataType, req.Content, req.Description),
	}

	if err := s.pool.CreateContribution(c.Request().Context(), &contribution); err != nil {
		s.logger.Error().Err(err).Int64("dataset_id", datasetID).Msg("create contribution failed")
		return internalError(c, "Failed to create contribution")
	}

	var duplicateCheck dupdetect.CheckResult
	if s.classifier != nil {
		duplicateCheck = s.classifier.CheckForDuplicates(c.Request().Context(), &contribution)
	}

	return successWithStatus(c, 201, map[string]any{
		"contribution":    contributionToResponse(&contribution, nil),
		"duplicate_check": duplicateCheck,
	})
}

// detectContributionLanguage tags inline text submissions. File-backed and
// non-text payloads are left untagged; the description alone is usually too
// short for a reliable signal.
func detectContributionLanguage(dataType db.DataType, content db.Content, description string) string {
	if dataType != db.DataTypeText || content.Text == nil {
		return ""
	}
	sample := strings.TrimSpace(content.Text.Body)
	if sample == "" {
		sample = strings.TrimSpace(description)
	}
	return langdetect.DetectISO6391(sample)
}

func (s *Server) handleContributionDetail(c echo.Context) error {
	contributionID, err := pathID(c, "contribution_id")
	if err != nil {
		return failValidation(c, map[string]string{"contribution_id": err.Error()})
	}

	contribution, err := s.pool.GetContribution(c.Request().Context(), contributionID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Contribution not found")
		}
		s.logger.Error().Err(err).Int64("contribution_id", contributionID).Msg("contribution lookup failed")
		return internalError(c, "Failed to load contribution")
	}
	if !contribution.IsActive() {
		return failNotFound(c, "Contribution not found")
	}

	validatedBy, err := s.pool.ValidatedBy(c.Request().Context(), contributionID)
	if err != nil {
		s.logger.Error().Err(err).Int64("contribution_id", contributionID).Msg("validator list failed")
		return internalError(c, "Failed to load contribution")
	}

	return success(c, contributionToResponse(&contribution, validatedBy))
}

func (s *Server) handleDeleteContribution(c echo.Context) error {
	contributionID, err := pathID(c, "contribution_id")
	if err != nil {
		return failValidation(c, map[string]string{"contribution_id": err.Error()})
	}

	ctx := c.Request().Context()
	contribution, err := s.pool.GetContribution(ctx, contributionID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Contribution not found")
		}
		s.logger.Error().Err(err).Int64("contribution_id", contributionID).Msg("contribution lookup failed")
		return internalError(c, "Failed to delete contribution")
	}

	deleted, err := s.pool.SoftDeleteContribution(ctx, &contribution)
	if err != nil {
		s.logger.Error().Err(err).Int64("contribution_id", contributionID).Msg("soft delete failed")
		return internalError(c, "Failed to delete contribution")
	}
	if !deleted {
		return failNotFound(c, "Contribution not found")
	}

	return success(c, map[string]any{
		"contribution_id": contributionID,
		"deleted":         true,
	})
}

func (s *Server) handleDatasetStats(c echo.Context) error {
	datasetID, err := pathID(c, "dataset_id")
	if err != nil {
		return failValidation(c, map[string]string{"dataset_id": err.Error()})
	}

	stats, err := s.pool.QueryDatasetStats(c.Request().Context(), datasetID)
	if err != nil {
		s.logger.Error().Err(err).Int64("dataset_id", datasetID).Msg("dataset stats failed")
		return internalError(c, "Failed to load dataset stats")
	}
	return success(c, stats)
}
