package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"horse.fit/paddock/internal/db"
)

func newTestContext(t *testing.T, body string) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestDecodeJSONBody(t *testing.T) {
	t.Parallel()

	var payload struct {
		Name string `json:"name"`
	}

	c := newTestContext(t, `{"name":"alpha"}`)
	if err := decodeJSONBody(c, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Name != "alpha" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	c = newTestContext(t, `{"name":"alpha"} {"again":true}`)
	if err := decodeJSONBody(c, &payload); err == nil {
		t.Fatalf("expected error for trailing data")
	}

	c = newTestContext(t, `{"unknown_field":1}`)
	if err := decodeJSONBody(c, &payload); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestPathID(t *testing.T) {
	t.Parallel()

	e := echo.New()
	req := httptest.NewRequest("GET", "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("dataset_id")
	c.SetParamValues("42")

	id, err := pathID(c, "dataset_id")
	if err != nil || id != 42 {
		t.Fatalf("expected 42, got %d err=%v", id, err)
	}

	c.SetParamValues("zero")
	if _, err := pathID(c, "dataset_id"); err == nil {
		t.Fatalf("expected error for non-numeric id")
	}

	c.SetParamValues("-3")
	if _, err := pathID(c, "dataset_id"); err == nil {
		t.Fatalf("expected error for negative id")
	}
}

func TestCreateDatasetRequestFieldErrors(t *testing.T) {
	t.Parallel()

	req := createDatasetRequest{
		OwnerID:      0,
		Name:         " ",
		Slug:         "Bad Slug!",
		DataType:     "video",
		RecordSchema: []byte(`{}`),
	}
	fieldErrors := req.fieldErrors()
	if fieldErrors == nil {
		t.Fatalf("expected field errors")
	}
	for _, field := range []string{"owner_id", "name", "slug", "data_type", "record_schema"} {
		if _, ok := fieldErrors[field]; !ok {
			t.Fatalf("expected error for %s, got %v", field, fieldErrors)
		}
	}

	ok := createDatasetRequest{
		OwnerID:  1,
		Name:     "Street Signs",
		Slug:     "street-signs",
		DataType: db.DataTypeImage,
	}
	if fieldErrors := ok.fieldErrors(); fieldErrors != nil {
		t.Fatalf("expected no field errors, got %v", fieldErrors)
	}

	structured := createDatasetRequest{
		OwnerID:      1,
		Name:         "Points",
		Slug:         "points",
		DataType:     db.DataTypeStructured,
		RecordSchema: []byte(`{"type":"object"}`),
	}
	if fieldErrors := structured.fieldErrors(); fieldErrors != nil {
		t.Fatalf("structured dataset with schema must pass, got %v", fieldErrors)
	}
}

func TestValidationRequestFieldErrors(t *testing.T) {
	t.Parallel()

	confidence := 1.5
	req := validationRequest{
		ValidatorID: 0,
		Status:      "maybe",
		Confidence:  &confidence,
	}
	fieldErrors := req.fieldErrors(true)
	if fieldErrors == nil {
		t.Fatalf("expected field errors")
	}
	for _, field := range []string{"validator_id", "status", "confidence"} {
		if _, ok := fieldErrors[field]; !ok {
			t.Fatalf("expected error for %s, got %v", field, fieldErrors)
		}
	}

	ok := validationRequest{ValidatorID: 7, Status: db.JudgmentApproved}
	if fieldErrors := ok.fieldErrors(true); fieldErrors != nil {
		t.Fatalf("expected no field errors, got %v", fieldErrors)
	}
}
