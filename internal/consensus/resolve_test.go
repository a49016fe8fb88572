package consensus

import (
	"testing"

	"horse.fit/paddock/internal/db"
)

func active(status db.JudgmentStatus, confidence *float64) db.Validation {
	return db.Validation{Status: status, Confidence: confidence}
}

func TestResolveStatusTable(t *testing.T) {
	t.Parallel()

	high := 0.9
	low := 0.5
	boundary := 0.8

	cases := []struct {
		name        string
		current     db.ValidationStatus
		validations []db.Validation
		want        db.ValidationStatus
	}{
		{
			name:    "empty set resets to pending",
			current: db.StatusApproved,
			want:    db.StatusPending,
		},
		{
			name:        "single without confidence stays put",
			current:     db.StatusPending,
			validations: []db.Validation{active(db.JudgmentApproved, nil)},
			want:        db.StatusPending,
		},
		{
			name:        "single low confidence stays put",
			current:     db.StatusPending,
			validations: []db.Validation{active(db.JudgmentApproved, &low)},
			want:        db.StatusPending,
		},
		{
			name:        "single at confidence boundary moves",
			current:     db.StatusPending,
			validations: []db.Validation{active(db.JudgmentApproved, &boundary)},
			want:        db.StatusApproved,
		},
		{
			name:        "single high confidence needs_review stays put",
			current:     db.StatusPending,
			validations: []db.Validation{active(db.JudgmentNeedsReview, &high)},
			want:        db.StatusPending,
		},
		{
			name:    "two-way split has no quorum",
			current: db.StatusPending,
			validations: []db.Validation{
				active(db.JudgmentApproved, nil),
				active(db.JudgmentRejected, nil),
			},
			want: db.StatusPending,
		},
		{
			name:    "two approvals reach quorum",
			current: db.StatusPending,
			validations: []db.Validation{
				active(db.JudgmentApproved, nil),
				active(db.JudgmentApproved, nil),
			},
			want: db.StatusApproved,
		},
		{
			name:    "two of three rejections reach quorum",
			current: db.StatusPending,
			validations: []db.Validation{
				active(db.JudgmentRejected, nil),
				active(db.JudgmentRejected, nil),
				active(db.JudgmentApproved, nil),
			},
			want: db.StatusRejected,
		},
		{
			name:    "needs_review dilutes quorum",
			current: db.StatusPending,
			validations: []db.Validation{
				active(db.JudgmentApproved, nil),
				active(db.JudgmentNeedsReview, nil),
			},
			want: db.StatusPending,
		},
		{
			name:    "three of five approvals hit the quorum boundary",
			current: db.StatusPending,
			validations: []db.Validation{
				active(db.JudgmentApproved, nil),
				active(db.JudgmentApproved, nil),
				active(db.JudgmentApproved, nil),
				active(db.JudgmentRejected, nil),
				active(db.JudgmentRejected, nil),
			},
			want: db.StatusApproved,
		},
		{
			name:    "diluted majority keeps an approved status",
			current: db.StatusApproved,
			validations: []db.Validation{
				active(db.JudgmentApproved, nil),
				active(db.JudgmentApproved, nil),
				active(db.JudgmentRejected, nil),
				active(db.JudgmentNeedsReview, nil),
				active(db.JudgmentNeedsReview, nil),
			},
			want: db.StatusApproved,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := resolveStatus(tc.current, tc.validations); got != tc.want {
				t.Fatalf("resolveStatus(%q, %d validations) = %q, want %q", tc.current, len(tc.validations), got, tc.want)
			}
		})
	}
}
