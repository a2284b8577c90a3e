package oracle

import (
	"fmt"
	"strings"

	"github.com/AIAleph/oracle_submit/internal/content"
	"github.com/AIAleph/oracle_submit/internal/diagnose"
	"github.com/AIAleph/oracle_submit/internal/submit"
)

const (
	MinScore = 0
	MaxScore = 100
)

// ValidationError is bad caller input, detected before any network access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }

func (e *ValidationError) Is(target error) bool { return target == diagnose.ErrInvalidInput }

// Input is one submission request.
type Input struct {
	ContentRef string
	Score      int
	// PrivateKey is a hex signing key; empty selects simulation.
	PrivateKey string
	// Wait requests a confirmation wait in addition to Options.WaitForConfirmation.
	Wait bool
}

// validate returns the payload and any non-fatal warnings.
func validate(in Input) (submit.Payload, []string, error) {
	ref := strings.TrimSpace(in.ContentRef)
	if ref == "" {
		return submit.Payload{}, nil, &ValidationError{Field: "content reference", Reason: "must not be empty"}
	}
	if in.Score < MinScore || in.Score > MaxScore {
		return submit.Payload{}, nil, &ValidationError{
			Field:  "confidence score",
			Reason: fmt.Sprintf("%d is outside [%d, %d]", in.Score, MinScore, MaxScore),
		}
	}
	var warnings []string
	if err := content.ValidateRef(ref); err != nil {
		warnings = append(warnings, fmt.Sprintf("content reference %q is not a CID: %v", ref, err))
	}
	return submit.Payload{ContentRef: ref, Score: uint8(in.Score)}, warnings, nil
}

// Validate checks in without touching the network.
func Validate(in Input) error {
	_, _, err := validate(in)
	return err
}
