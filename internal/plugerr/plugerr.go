// Package plugerr classifies failures from descriptor parsing, generation and
// resolution. Every Error has a Kind, and errors.Is matches an Error against
// the sentinel for its kind.
package plugerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the category of a failure.
type Kind int

const (
	// Structural: malformed descriptor grammar or an unbalanced tree.
	Structural Kind = iota + 1
	// Contract: abstract plug, socket is not a supertype of the plug.
	Contract
	// Construction: no usable factory, factory failed, missing dependency.
	Construction
	// Configuration: missing or ambiguous socket wiring.
	Configuration
)

func (k Kind) String() string {
	switch k {
	case Structural:
		return "structural"
	case Contract:
		return "contract"
	case Construction:
		return "construction"
	case Configuration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is.
var (
	ErrStructural    = errors.New("structural error")
	ErrContract      = errors.New("contract error")
	ErrConstruction  = errors.New("construction error")
	ErrConfiguration = errors.New("configuration error")
)

func (k Kind) sentinel() error {
	switch k {
	case Structural:
		return ErrStructural
	case Contract:
		return ErrContract
	case Construction:
		return ErrConstruction
	case Configuration:
		return ErrConfiguration
	default:
		return nil
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Subject is the type id or file the failure is about, if any.
	Subject string
	Msg     string
	// Raw holds the offending descriptor text for structural errors.
	Raw string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Subject != "" {
		fmt.Fprintf(&b, " in %s", e.Subject)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Raw != "" {
		b.WriteString("\n")
		b.WriteString(e.Raw)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// NewStructural reports text that could not be parsed.
func NewStructural(raw string, err error) *Error {
	return &Error{Kind: Structural, Msg: "unable to parse descriptor", Raw: raw, Err: err}
}

// NewContract reports a plug that breaks the plug/socket contract.
func NewContract(subject, format string, args ...any) *Error {
	return &Error{Kind: Contract, Subject: subject, Msg: fmt.Sprintf(format, args...)}
}

// NewConstruction reports a plug that could not be built or described.
func NewConstruction(subject string, err error, format string, args ...any) *Error {
	return &Error{Kind: Construction, Subject: subject, Msg: fmt.Sprintf(format, args...), Err: err}
}

// NewConfiguration reports missing or ambiguous socket wiring.
func NewConfiguration(subject, format string, args ...any) *Error {
	return &Error{Kind: Configuration, Subject: subject, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
