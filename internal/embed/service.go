package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	DefaultRequestTimeout = 20 * time.Second
	DefaultMaxLength      = 512
)

// ServiceOptions configures the HTTP embedding client.
type ServiceOptions struct {
	Endpoint       string
	ModelName      string
	Dimensions     int
	MaxLength      int
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// ServiceEmbedder calls an external embedding service. It speaks either the
// bare {"texts": [...]} protocol or the OpenAI-compatible {"input": [...]}
// shape when the endpoint path ends in /v1/embeddings.
type ServiceEmbedder struct {
	endpoint  string
	modelName string
	dims      int
	maxLength int
	timeout   time.Duration
	client    *http.Client
}

type embedRequest struct {
	Texts     []string `json:"texts,omitempty"`
	Input     []string `json:"input,omitempty"`
	Model     string   `json:"model,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func NewServiceEmbedder(opts ServiceOptions) (*ServiceEmbedder, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("parse embedding endpoint: %w", err)
	}

	dims := opts.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &ServiceEmbedder{
		endpoint:  endpoint,
		modelName: strings.TrimSpace(opts.ModelName),
		dims:      dims,
		maxLength: maxLength,
		timeout:   timeout,
		client:    client,
	}, nil
}

func (e *ServiceEmbedder) Embed(ctx context.Context, text string) ([]float64, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("embedding input is empty")
	}

	payload := embedRequest{
		Texts:     []string{text},
		MaxLength: e.maxLength,
	}
	if parsed, err := url.Parse(e.endpoint); err == nil && strings.HasSuffix(parsed.Path, "/v1/embeddings") {
		payload = embedRequest{
			Input: []string{text},
			Model: e.modelName,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal embedding request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("embedding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, "", fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float64, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) != 1 {
		return nil, "", fmt.Errorf("embedding response vector count mismatch: requested=1 returned=%d", len(vectors))
	}

	vector := vectors[0]
	if err := validateDimensions(vector, e.dims); err != nil {
		return nil, "", fmt.Errorf("invalid embedding vector: %w", err)
	}

	return Normalize(vector), e.modelName, nil
}
