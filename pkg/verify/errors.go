package verify

import (
	"errors"
	"fmt"

	"dev/bravebird/ipview-verify/pkg/models"
)

// Kind classifies a verification failure.
type Kind string

const (
	KindBootstrap Kind = "bootstrap_failure"
	KindTimeout   Kind = "async_settle_timeout"
	KindRejected  Kind = "async_settle_rejected"
	KindStructure Kind = "structural_assertion_failure"
	KindToggle    Kind = "toggle_assertion_failure"
	KindHarness   Kind = "harness_error"
)

// Kinds lists every failure kind.
var Kinds = []Kind{KindBootstrap, KindTimeout, KindRejected, KindStructure, KindToggle, KindHarness}

// Assertion reports whether k means the page misbehaved, as opposed to the
// harness failing to run.
func (k Kind) Assertion() bool {
	switch k {
	case KindTimeout, KindRejected, KindStructure, KindToggle:
		return true
	}
	return false
}

// Error is a classified failure of one phase. Artifact names the diagnostic
// screenshot written before the error was returned, if any.
type Error struct {
	Kind     Kind
	Phase    models.Phase
	Message  string
	Artifact string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

// IsKind reports whether err is a verification error of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

func harnessError(phase models.Phase, err error, format string, args ...any) *Error {
	return &Error{Kind: KindHarness, Phase: phase, Message: fmt.Sprintf(format, args...), Err: err}
}
