package ruleerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the class of a validation failure. The numeric codes are
// the wire result codes of the validation routine; code 0 means success.
type Kind int

// These constants are the only outcomes a validation can fail with.
const (
	// KindInvalid indicates a structurally malformed input buffer: wrong
	// length, bad version or inconsistent fields.
	KindInvalid Kind = 1

	// KindInvalidItem4 indicates the fourth item check failed.
	KindInvalidItem4 Kind = 2

	// KindInsufficientProofOfWork indicates the recomputed hash is
	// numerically above the required target.
	KindInsufficientProofOfWork Kind = 3

	// KindSoftNonceTooHigh indicates a soft nonce outside the range
	// allowed for the announcement's epoch.
	KindSoftNonceTooHigh Kind = 4

	// KindUnknown signals a result code no known outcome maps to. Seeing it
	// means the validator and its caller disagree about the protocol.
	KindUnknown Kind = -1
)

var kindStrings = map[Kind]string{
	KindInvalid:                 "INVAL",
	KindInvalidItem4:            "INVAL_ITEM4",
	KindInsufficientProofOfWork: "INSUF_POW",
	KindSoftNonceTooHigh:        "SOFT_NONCE_HIGH",
	KindUnknown:                 "UNKNOWN",
}

// String returns the short result name of the kind
func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Code returns the numeric result code of the kind
func (k Kind) Code() int {
	return int(k)
}

// Sentinel errors, one per kind. Use errors.Is to test for them.
var (
	ErrInvalid                 = newRuleError(KindInvalid)
	ErrInvalidItem4            = newRuleError(KindInvalidItem4)
	ErrInsufficientProofOfWork = newRuleError(KindInsufficientProofOfWork)
	ErrSoftNonceTooHigh        = newRuleError(KindSoftNonceTooHigh)
	ErrUnknown                 = newRuleError(KindUnknown)
)

// RuleError identifies a validation rule violation. The caller can use
// errors.As to recover the Kind, or errors.Is against the sentinels.
type RuleError struct {
	kind    Kind
	message string
	inner   error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	msg := e.kind.String()
	if e.message != "" {
		msg += ": " + e.message
	}
	if e.inner != nil {
		msg += ": " + e.inner.Error()
	}
	return msg
}

// Kind returns the class of the violation
func (e RuleError) Kind() Kind {
	return e.kind
}

// Unwrap satisfies the errors.Unwrap interface
func (e RuleError) Unwrap() error {
	return e.inner
}

// Cause satisfies the github.com/pkg/errors.Cause interface
func (e RuleError) Cause() error {
	return e.inner
}

// Is reports whether target is a RuleError of the same kind
func (e RuleError) Is(target error) bool {
	t, ok := target.(RuleError)
	return ok && t.kind == e.kind
}

func newRuleError(kind Kind) RuleError {
	return RuleError{kind: kind}
}

// New creates a RuleError of the given kind with a formatted message
func New(kind Kind, format string, args ...interface{}) error {
	return errors.WithStack(RuleError{
		kind:    kind,
		message: fmt.Sprintf(format, args...),
	})
}

// Wrap creates a RuleError of the given kind around inner
func Wrap(kind Kind, inner error, message string) error {
	return errors.WithStack(RuleError{
		kind:    kind,
		message: message,
		inner:   inner,
	})
}

// KindOf extracts the kind of the first RuleError in err's chain
func KindOf(err error) (Kind, bool) {
	var ruleErr RuleError
	if !errors.As(err, &ruleErr) {
		return 0, false
	}
	return ruleErr.kind, true
}

// FromCode maps a numeric result code to its outcome. Code 0 is success and
// returns nil; unrecognized codes map to KindUnknown.
func FromCode(code int) error {
	switch Kind(code) {
	case 0:
		return nil
	case KindInvalid, KindInvalidItem4, KindInsufficientProofOfWork, KindSoftNonceTooHigh:
		return errors.WithStack(newRuleError(Kind(code)))
	default:
		return New(KindUnknown, "unrecognized result code %d", code)
	}
}

// Code maps an error back to its numeric result code: 0 for nil, the kind's
// code for rule errors, and KindUnknown's code for anything else.
func Code(err error) int {
	if err == nil {
		return 0
	}
	kind, ok := KindOf(err)
	if !ok {
		return KindUnknown.Code()
	}
	return kind.Code()
}
