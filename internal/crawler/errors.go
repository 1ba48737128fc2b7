package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTranscript reports that a collaborator answered without transcript text.
	ErrNoTranscript = errors.New("no transcript available")
	// ErrAffordanceAbsent reports that a UI element did not appear within its wait.
	ErrAffordanceAbsent = errors.New("ui affordance absent")
	// ErrMalformedResponse reports an unparseable collaborator response.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrArtifactExists reports that an artifact key is already taken.
	ErrArtifactExists = errors.New("artifact already exists")
	// ErrInvalidHandle reports a channel handle without the required sigil.
	ErrInvalidHandle = errors.New("invalid channel handle")
)

// StrategyError wraps the failure of one acquisition strategy.
type StrategyError struct {
	Kind StrategyKind
	Err  error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s strategy: %v", e.Kind, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}
