package consensus

import (
	"horse.fit/paddock/internal/db"
)

const (
	// SingleJudgmentConfidence is the confidence floor for a lone validation
	// to move a contribution out of pending.
	SingleJudgmentConfidence = 0.8

	// QuorumShare is the vote share a multi-validator majority needs.
	QuorumShare = 0.6
)

// resolveStatus derives the target contribution status from the active
// validation set. needs_review judgments count toward n but vote for neither
// side, so they dilute quorum without moving the status.
func resolveStatus(current db.ValidationStatus, validations []db.Validation) db.ValidationStatus {
	n := len(validations)
	if n == 0 {
		return db.StatusPending
	}

	if n == 1 {
		v := validations[0]
		if v.Confidence == nil || *v.Confidence < SingleJudgmentConfidence {
			return current
		}
		return judgmentTarget(v.Status, current)
	}

	var approved, rejected int
	for _, v := range validations {
		switch v.Status {
		case db.JudgmentApproved:
			approved++
		case db.JudgmentRejected:
			rejected++
		}
	}

	share := func(count int) float64 { return float64(count) / float64(n) }
	switch {
	case approved > rejected && share(approved) >= QuorumShare:
		return db.StatusApproved
	case rejected > approved && share(rejected) >= QuorumShare:
		return db.StatusRejected
	default:
		return current
	}
}

// judgmentTarget maps a single decisive judgment onto a contribution status.
// A needs_review judgment asks for more eyes, so the contribution stays where
// it is.
func judgmentTarget(status db.JudgmentStatus, current db.ValidationStatus) db.ValidationStatus {
	switch status {
	case db.JudgmentApproved:
		return db.StatusApproved
	case db.JudgmentRejected:
		return db.StatusRejected
	default:
		return current
	}
}
