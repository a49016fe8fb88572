package db

import (
	"encoding/json"
	"fmt"
	"time"
)

type DataType string

const (
	DataTypeImage      DataType = "image"
	DataTypeText       DataType = "text"
	DataTypeStructured DataType = "structured"
)

type ValidationStatus string

const (
	StatusPending  ValidationStatus = "pending"
	StatusApproved ValidationStatus = "approved"
	StatusRejected ValidationStatus = "rejected"
)

type JudgmentStatus string

const (
	JudgmentApproved    JudgmentStatus = "approved"
	JudgmentRejected    JudgmentStatus = "rejected"
	JudgmentNeedsReview JudgmentStatus = "needs_review"
)

// FileRef points at a stored upload. Resolution of the path to bytes is the
// file-access capability's concern, not the database's.
type FileRef struct {
	Path         string `json:"path"`
	OriginalName string `json:"original_name,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
}

// TextContent is inline text or a reference to a stored text document.
type TextContent struct {
	Body string   `json:"body,omitempty"`
	File *FileRef `json:"file,omitempty"`
}

// StructuredContent carries a JSON record: an object, a row-array, or a
// tabular {fields, rows} payload.
type StructuredContent struct {
	Record json.RawMessage `json:"record"`
}

// Content is the tagged union stored in crowd.contributions.content.
// Exactly one variant must be set, matching the contribution's data type.
type Content struct {
	Text       *TextContent       `json:"text,omitempty"`
	Image      *FileRef           `json:"image,omitempty"`
	Structured *StructuredContent `json:"structured,omitempty"`
}

// Validate checks that the variant set matches dataType and nothing else is set.
func (c Content) Validate(dataType DataType) error {
	set := 0
	if c.Text != nil {
		set++
	}
	if c.Image != nil {
		set++
	}
	if c.Structured != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("content must carry exactly one variant, has %d", set)
	}

	switch dataType {
	case DataTypeText:
		if c.Text == nil {
			return fmt.Errorf("text contribution requires the text variant")
		}
		if c.Text.Body == "" && c.Text.File == nil {
			return fmt.Errorf("text content requires an inline body or a file reference")
		}
	case DataTypeImage:
		if c.Image == nil {
			return fmt.Errorf("image contribution requires the image variant")
		}
		if c.Image.Path == "" {
			return fmt.Errorf("image content requires a file path")
		}
	case DataTypeStructured:
		if c.Structured == nil {
			return fmt.Errorf("structured contribution requires the structured variant")
		}
		if len(c.Structured.Record) == 0 {
			return fmt.Errorf("structured content requires a record")
		}
	default:
		return fmt.Errorf("unknown data type %q", dataType)
	}
	return nil
}

// User maps crowd.users.
type User struct {
	UserID       int64     `gorm:"column:user_id;primaryKey;autoIncrement"`
	UserUUID     string    `gorm:"column:user_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Username     string    `gorm:"column:username;type:text;not null;unique"`
	PasswordHash string    `gorm:"column:password_hash;type:text;not null"`
	Role         string    `gorm:"column:role;type:crowd.user_role;not null;default:contributor"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt    time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (User) TableName() string { return "crowd.users" }

// Dataset maps crowd.datasets.
type Dataset struct {
	DatasetID         int64           `gorm:"column:dataset_id;primaryKey;autoIncrement"`
	DatasetUUID       string          `gorm:"column:dataset_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	OwnerID           int64           `gorm:"column:owner_id;type:bigint;not null"`
	Name              string          `gorm:"column:name;type:text;not null"`
	Slug              string          `gorm:"column:slug;type:text;not null;unique"`
	Description       string          `gorm:"column:description;type:text;not null;default:''"`
	DataType          DataType        `gorm:"column:data_type;type:crowd.data_type;not null"`
	RecordSchema      json.RawMessage `gorm:"column:record_schema;type:jsonb"`
	ContributionCount int64           `gorm:"column:contribution_count;type:bigint;not null;default:0"`
	ValidationCount   int64           `gorm:"column:validation_count;type:bigint;not null;default:0"`
	Status            string          `gorm:"column:status;type:text;not null;default:active"`
	DeletedAt         *time.Time      `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Dataset) TableName() string { return "crowd.datasets" }

// Contribution maps crowd.contributions. A NULL deleted_at means active.
type Contribution struct {
	ContributionID   int64            `gorm:"column:contribution_id;primaryKey;autoIncrement"`
	ContributionUUID string           `gorm:"column:contribution_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	DatasetID        int64            `gorm:"column:dataset_id;type:bigint;not null;index"`
	ContributorID    int64            `gorm:"column:contributor_id;type:bigint;not null"`
	DataType         DataType         `gorm:"column:data_type;type:crowd.data_type;not null"`
	Content          json.RawMessage  `gorm:"column:content;type:jsonb;not null"`
	Description      string           `gorm:"column:description;type:text;not null;default:''"`
	Tags             json.RawMessage  `gorm:"column:tags;type:jsonb"`
	Annotations      json.RawMessage  `gorm:"column:annotations;type:jsonb"`
	Language         string           `gorm:"column:language;type:text;not null;default:''"`
	ValidationStatus ValidationStatus `gorm:"column:validation_status;type:crowd.validation_status;not null;default:pending"`
	DeletedAt        *time.Time       `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt        time.Time        `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Contribution) TableName() string { return "crowd.contributions" }

func (c *Contribution) IsActive() bool {
	return c != nil && c.DeletedAt == nil
}

// DecodeContent unmarshals the stored tagged union.
func (c *Contribution) DecodeContent() (Content, error) {
	var content Content
	if len(c.Content) == 0 {
		return content, fmt.Errorf("contribution %d has no content", c.ContributionID)
	}
	if err := json.Unmarshal(c.Content, &content); err != nil {
		return content, fmt.Errorf("decode contribution %d content: %w", c.ContributionID, err)
	}
	return content, nil
}

// DecodeTags returns the stored tag list, nil when absent.
func (c *Contribution) DecodeTags() ([]string, error) {
	if len(c.Tags) == 0 {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal(c.Tags, &tags); err != nil {
		return nil, fmt.Errorf("decode contribution %d tags: %w", c.ContributionID, err)
	}
	return tags, nil
}

// DecodeAnnotations returns the stored annotation map, nil when absent.
func (c *Contribution) DecodeAnnotations() (map[string]any, error) {
	if len(c.Annotations) == 0 {
		return nil, nil
	}
	var annotations map[string]any
	if err := json.Unmarshal(c.Annotations, &annotations); err != nil {
		return nil, fmt.Errorf("decode contribution %d annotations: %w", c.ContributionID, err)
	}
	return annotations, nil
}

// Validation maps crowd.validations. At most one active row may exist per
// (contribution_id, validator_id); enforced by a partial unique index.
type Validation struct {
	ValidationID     int64           `gorm:"column:validation_id;primaryKey;autoIncrement"`
	ValidationUUID   string          `gorm:"column:validation_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	ContributionID   int64           `gorm:"column:contribution_id;type:bigint;not null;index"`
	ValidatorID      int64           `gorm:"column:validator_id;type:bigint;not null"`
	Status           JudgmentStatus  `gorm:"column:status;type:crowd.judgment_status;not null"`
	Confidence       *float64        `gorm:"column:confidence;type:double precision"`
	Notes            string          `gorm:"column:notes;type:text;not null;default:''"`
	Criteria         json.RawMessage `gorm:"column:criteria;type:jsonb"`
	TimeSpentSeconds int             `gorm:"column:time_spent_seconds;type:integer;not null;default:0"`
	DeletedAt        *time.Time      `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt        time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Validation) TableName() string { return "crowd.validations" }

// ContributionEmbedding maps crowd.contribution_embeddings: zero or one
// semantic fingerprint per contribution.
type ContributionEmbedding struct {
	EmbeddingID    int64     `gorm:"column:embedding_id;primaryKey;autoIncrement"`
	ContributionID int64     `gorm:"column:contribution_id;type:bigint;not null;unique"`
	ModelID        string    `gorm:"column:model_id;type:text;not null"`
	Embedding      string    `gorm:"column:embedding;type:vector(384);not null"`
	ContentExcerpt string    `gorm:"column:content_excerpt;type:text;not null;default:''"`
	ExtractedAt    time.Time `gorm:"column:extracted_at;type:timestamptz;not null;default:now()"`
	CreatedAt      time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ContributionEmbedding) TableName() string { return "crowd.contribution_embeddings" }

func autoMigrateModels() []any {
	return []any{
		&User{},
		&Dataset{},
		&Contribution{},
		&Validation{},
		&ContributionEmbedding{},
	}
}
