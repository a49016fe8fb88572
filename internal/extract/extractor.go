package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/paddock/internal/db"
	"horse.fit/paddock/internal/reader"
)

const (
	// DefaultMaxTextChars caps how much of a referenced text document feeds
	// the embedding input.
	DefaultMaxTextChars = 10_000

	maxFileReadBytes = 2 * 1024 * 1024
)

// Extractor builds the canonical text representation of a contribution. An
// empty result means "no embedding possible", never an error.
type Extractor struct {
	files        FileStore
	logger       zerolog.Logger
	maxTextChars int
}

func New(files FileStore, logger zerolog.Logger) *Extractor {
	return &Extractor{
		files:        files,
		logger:       logger,
		maxTextChars: DefaultMaxTextChars,
	}
}

// CanonicalText concatenates description, tags, the type-specific body, and
// string-valued annotations into one embedding input.
func (x *Extractor) CanonicalText(ctx context.Context, c *db.Contribution) string {
	if c == nil {
		return ""
	}

	var parts []string

	if description := strings.TrimSpace(c.Description); description != "" {
		parts = append(parts, description)
	}

	if tags, err := c.DecodeTags(); err == nil && len(tags) > 0 {
		trimmed := make([]string, 0, len(tags))
		for _, tag := range tags {
			if t := strings.TrimSpace(tag); t != "" {
				trimmed = append(trimmed, t)
			}
		}
		if len(trimmed) > 0 {
			parts = append(parts, strings.Join(trimmed, ", "))
		}
	}

	if body := x.typeBody(ctx, c); body != "" {
		parts = append(parts, body)
	}

	if annotations, err := c.DecodeAnnotations(); err == nil && len(annotations) > 0 {
		keys := make([]string, 0, len(annotations))
		for key, value := range annotations {
			if _, ok := value.(string); ok {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := strings.TrimSpace(annotations[key].(string))
			if value == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s: %s", key, value))
		}
	}

	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func (x *Extractor) typeBody(ctx context.Context, c *db.Contribution) string {
	content, err := c.DecodeContent()
	if err != nil {
		x.logger.Warn().Err(err).Int64("contribution_id", c.ContributionID).Msg("content decode failed during extraction")
		return ""
	}

	switch c.DataType {
	case db.DataTypeText:
		return x.textBody(ctx, c.ContributionID, content.Text)
	case db.DataTypeImage:
		return imageBody(content.Image)
	case db.DataTypeStructured:
		return structuredBody(content.Structured)
	default:
		return ""
	}
}

func (x *Extractor) textBody(ctx context.Context, contributionID int64, text *db.TextContent) string {
	if text == nil {
		return ""
	}
	if body := strings.TrimSpace(text.Body); body != "" {
		return body
	}
	if text.File == nil || x.files == nil {
		return ""
	}

	raw, err := x.files.ReadFile(ctx, *text.File, maxFileReadBytes)
	if err != nil {
		x.logger.Warn().Err(err).Int64("contribution_id", contributionID).Msg("text file read failed during extraction")
		return ""
	}

	var body string
	if isHTMLMime(text.File.MimeType) {
		body, err = reader.ExtractHTMLText(raw, "")
		if err != nil {
			x.logger.Warn().Err(err).Int64("contribution_id", contributionID).Msg("html extraction failed, using raw text")
			body = reader.CleanText(string(raw))
		}
	} else {
		body = reader.CleanText(string(raw))
	}

	clipped, _ := reader.TruncateText(body, x.maxTextChars)
	return clipped
}

// imageBody describes an image from its file metadata. No pixel analysis.
func imageBody(file *db.FileRef) string {
	if file == nil {
		return ""
	}

	var parts []string
	if name := strings.TrimSpace(file.OriginalName); name != "" {
		parts = append(parts, fmt.Sprintf("Image file: %s", name))
	}
	if mime := strings.TrimSpace(file.MimeType); mime != "" {
		parts = append(parts, fmt.Sprintf("Type: %s", mime))
	}
	if file.SizeBytes > 0 {
		parts = append(parts, fmt.Sprintf("Size: %s", humanReadableSize(file.SizeBytes)))
	}
	return strings.Join(parts, ". ")
}

func structuredBody(structured *db.StructuredContent) string {
	if structured == nil || len(structured.Record) == 0 {
		return ""
	}

	var asArray []map[string]any
	if err := json.Unmarshal(structured.Record, &asArray); err == nil {
		if len(asArray) == 0 {
			return "Structured data: 0 items"
		}
		fields := sortedKeys(asArray[0])
		return fmt.Sprintf("Structured data: %d items. Fields: %s", len(asArray), strings.Join(fields, ", "))
	}

	var asObject map[string]any
	if err := json.Unmarshal(structured.Record, &asObject); err != nil {
		return ""
	}

	// Tabular payloads carry their own field list and row set.
	if fields, rows, ok := tabularShape(asObject); ok {
		return fmt.Sprintf("Structured data: columns %s. Sample rows: %d", strings.Join(fields, ", "), rows)
	}

	return fmt.Sprintf("Structured data. Fields: %s", strings.Join(sortedKeys(asObject), ", "))
}

func tabularShape(record map[string]any) ([]string, int, bool) {
	rawFields, hasFields := record["fields"].([]any)
	rawRows, hasRows := record["rows"].([]any)
	if !hasFields || !hasRows {
		return nil, 0, false
	}

	fields := make([]string, 0, len(rawFields))
	for _, f := range rawFields {
		name, ok := f.(string)
		if !ok {
			return nil, 0, false
		}
		fields = append(fields, name)
	}
	return fields, len(rawRows), true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func isHTMLMime(mime string) bool {
	normalized := strings.ToLower(strings.TrimSpace(mime))
	return strings.HasPrefix(normalized, "text/html") || strings.HasPrefix(normalized, "application/xhtml")
}

func humanReadableSize(sizeBytes int64) string {
	const unit = 1024
	if sizeBytes < unit {
		return fmt.Sprintf("%d B", sizeBytes)
	}
	div, exp := int64(unit), 0
	for n := sizeBytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(sizeBytes)/float64(div), "KMGTPE"[exp])
}
