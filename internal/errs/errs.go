// Package errs implements the error taxonomy of §7: five kinds, carried by
// the one Classified error type. preflight wraps its startup failures as
// KindConfig; the other packages return plain errors and handle them at the
// loop boundary where they occur.
package errs

import "fmt"

// Kind names one of the five error kinds. It is a plain int, so any value
// outside the constants below reports itself as "unknown".
type Kind int

const (
	KindConfig Kind = iota
	KindTransient
	KindIntegrity
	KindResource
	KindFatalSubsystem
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransient:
		return "transient_io"
	case KindIntegrity:
		return "integrity"
	case KindResource:
		return "resource"
	case KindFatalSubsystem:
		return "fatal_subsystem"
	default:
		return "unknown"
	}
}

// Classified wraps an underlying error with its §7 kind and enough context
// to log without the caller re-deriving it.
type Classified struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Classified) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Classified) Unwrap() error { return e.Err }

func (e *Classified) sealed() {}

func Config(context string, err error) *Classified {
	return &Classified{Kind: KindConfig, Context: context, Err: err}
}

func Transient(context string, err error) *Classified {
	return &Classified{Kind: KindTransient, Context: context, Err: err}
}

func Integrity(context string, err error) *Classified {
	return &Classified{Kind: KindIntegrity, Context: context, Err: err}
}

func Resource(context string, err error) *Classified {
	return &Classified{Kind: KindResource, Context: context, Err: err}
}

func FatalSubsystem(context string, err error) *Classified {
	return &Classified{Kind: KindFatalSubsystem, Context: context, Err: err}
}

// Is reports whether err is a Classified of the given kind.
func Is(err error, kind Kind) bool {
	c, ok := err.(*Classified)
	return ok && c.Kind == kind
}
