package httpapi

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/paddock/internal/consensus"
	"horse.fit/paddock/internal/db"
	"horse.fit/paddock/internal/dupdetect"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

type createDatasetRequest struct {
	OwnerID      int64           `json:"owner_id"`
	Name         string          `json:"name"`
	Slug         string          `json:"slug"`
	Description  string          `json:"description"`
	DataType     db.DataType     `json:"data_type"`
	RecordSchema json.RawMessage `json:"record_schema"`
}

type datasetResponse struct {
	DatasetID         int64           `json:"dataset_id"`
	DatasetUUID       string          `json:"dataset_uuid"`
	OwnerID           int64           `json:"owner_id"`
	Name              string          `json:"name"`
	Slug              string          `json:"slug"`
	Description       string          `json:"description"`
	DataType          db.DataType     `json:"data_type"`
	RecordSchema      json.RawMessage `json:"record_schema,omitempty"`
	ContributionCount int64           `json:"contribution_count"`
	ValidationCount   int64           `json:"validation_count"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func datasetToResponse(d *db.Dataset) datasetResponse {
	return datasetResponse{
		DatasetID:         d.DatasetID,
		DatasetUUID:       d.DatasetUUID,
		OwnerID:           d.OwnerID,
		Name:              d.Name,
		Slug:              d.Slug,
		Description:       d.Description,
		DataType:          d.DataType,
		RecordSchema:      d.RecordSchema,
		ContributionCount: d.ContributionCount,
		ValidationCount:   d.ValidationCount,
		Status:            d.Status,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func (r *createDatasetRequest) fieldErrors() map[string]string {
	fieldErrors := make(map[string]string)
	if r.OwnerID <= 0 {
		fieldErrors["owner_id"] = "is required"
	}
	if strings.TrimSpace(r.Name) == "" {
		fieldErrors["name"] = "is required"
	}
	if !slugPattern.MatchString(r.Slug) {
		fieldErrors["slug"] = "must be lowercase letters, digits, and hyphens"
	}
	switch r.DataType {
	case db.DataTypeText, db.DataTypeImage, db.DataTypeStructured:
	default:
		fieldErrors["data_type"] = "must be text, image, or structured"
	}
	if len(r.RecordSchema) > 0 && r.DataType != db.DataTypeStructured {
		fieldErrors["record_schema"] = "is only allowed for structured datasets"
	}
	if len(fieldErrors) == 0 {
		return nil
	}
	return fieldErrors
}

func (s *Server) handleCreateDataset(c echo.Context) error {
	var req createDatasetRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if fieldErrors := req.fieldErrors(); fieldErrors != nil {
		return failValidation(c, fieldErrors)
	}
	if err := s.schemas.CheckSchema(req.RecordSchema); err != nil {
		return failValidation(c, map[string]string{"record_schema": err.Error()})
	}

	ctx := c.Request().Context()
	if _, err := s.pool.GetDatasetBySlug(ctx, req.Slug); err == nil {
		return failConflict(c, "Slug already in use")
	} else if !db.IsNoRows(err) {
		s.logger.Error().Err(err).Str("slug", req.Slug).Msg("slug lookup failed")
		return internalError(c, "Failed to create dataset")
	}

	dataset := db.Dataset{
		OwnerID:      req.OwnerID,
		Name:         strings.TrimSpace(req.Name),
		Slug:         req.Slug,
		Description:  strings.TrimSpace(req.Description),
		DataType:     req.DataType,
		RecordSchema: req.RecordSchema,
	}
	if err := s.pool.CreateDataset(ctx, &dataset); err != nil {
		s.logger.Error().Err(err).Str("slug", req.Slug).Msg("create dataset failed")
		return internalError(c, "Failed to create dataset")
	}

	return successWithStatus(c, 201, datasetToResponse(&dataset))
}

func (s *Server) handleBackfill(c echo.Context) error {
	var datasetID *int64
	if raw := strings.TrimSpace(c.QueryParam("dataset_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return failValidation(c, map[string]string{"dataset_id": "must be a positive integer"})
		}
		datasetID = &id
	}

	result, err := s.classifier.ProcessExistingContributions(c.Request().Context(), datasetID)
	if err != nil {
		s.logger.Error().Err(err).Msg("embedding backfill failed")
		return internalError(c, "Backfill failed")
	}
	return success(c, result)
}

func (s *Server) handleCleanup(c echo.Context) error {
	removed, err := s.classifier.CleanupEmbeddings(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("embedding cleanup failed")
		return internalError(c, "Cleanup failed")
	}
	return success(c, map[string]any{"removed": removed})
}

func (s *Server) handleDatasetDuplicates(c echo.Context) error {
	datasetID, err := pathID(c, "dataset_id")
	if err != nil {
		return failValidation(c, map[string]string{"dataset_id": err.Error()})
	}

	opts := dupdetect.ScanOptions{}
	if raw := strings.TrimSpace(c.QueryParam("threshold")); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil || threshold <= 0 || threshold > 1 {
			return failValidation(c, map[string]string{"threshold": "must be a number in (0, 1]"})
		}
		opts.Threshold = threshold
	}
	if raw := strings.TrimSpace(c.QueryParam("include_validated")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return failValidation(c, map[string]string{"include_validated": "must be a boolean"})
		}
		opts.IncludeValidated = include
	}

	pairs, err := s.classifier.FindDatasetDuplicates(c.Request().Context(), datasetID, opts)
	if err != nil {
		s.logger.Error().Err(err).Int64("dataset_id", datasetID).Msg("dataset duplicate scan failed")
		return internalError(c, "Duplicate scan failed")
	}

	return success(c, map[string]any{
		"dataset_id": datasetID,
		"pairs":      pairs,
	})
}

func (s *Server) handleDuplicateReport(c echo.Context) error {
	datasetID, err := pathID(c, "dataset_id")
	if err != nil {
		return failValidation(c, map[string]string{"dataset_id": err.Error()})
	}

	report, err := s.classifier.GenerateDuplicateReport(c.Request().Context(), datasetID)
	if err != nil {
		s.logger.Error().Err(err).Int64("dataset_id", datasetID).Msg("duplicate report failed")
		return internalError(c, "Duplicate report failed")
	}

	stats, err := s.pool.QueryDatasetStats(c.Request().Context(), datasetID)
	if err != nil {
		s.logger.Error().Err(err).Int64("dataset_id", datasetID).Msg("dataset stats for report failed")
		return internalError(c, "Duplicate report failed")
	}

	return success(c, map[string]any{
		"report":    report,
		"languages": stats.Languages,
	})
}

// handleReconcile re-derives every active contribution's status from its
// validation set, then recomputes the dataset counters wholesale.
func (s *Server) handleReconcile(c echo.Context) error {
	datasetID, err := pathID(c, "dataset_id")
	if err != nil {
		return failValidation(c, map[string]string{"dataset_id": err.Error()})
	}

	ctx := c.Request().Context()
	ids, err := s.pool.ActiveContributionIDs(ctx, datasetID)
	if err != nil {
		s.logger.Error().Err(err).Int64("dataset_id", datasetID).Msg("contribution listing for reconcile failed")
		return internalError(c, "Reconciliation failed")
	}

	statusesChanged := 0
	for _, id := range ids {
		changed, _, err := s.engine.Recompute(ctx, id)
		if err != nil {
			// A contribution deleted mid-run drops out of scope.
			if errors.Is(err, consensus.ErrContributionInactive) {
				continue
			}
			s.logger.Error().Err(err).Int64("contribution_id", id).Msg("status recompute failed")
			return internalError(c, "Reconciliation failed")
		}
		if changed {
			statusesChanged++
		}
	}

	dataset, err := s.pool.ReconcileDatasetCounters(ctx, datasetID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Dataset not found")
		}
		s.logger.Error().Err(err).Int64("dataset_id", datasetID).Msg("counter reconciliation failed")
		return internalError(c, "Reconciliation failed")
	}

	return success(c, map[string]any{
		"dataset_id":         dataset.DatasetID,
		"contribution_count": dataset.ContributionCount,
		"validation_count":   dataset.ValidationCount,
		"statuses_changed":   statusesChanged,
	})
}
