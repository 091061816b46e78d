// Package fault classifies conversion failures so callers can render a
// specific user-facing message for every outcome. No failure surfaces as a
// generic unlabeled error.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class.
type Kind int

const (
	// KindUnknown is the zero value and never returned by this module.
	KindUnknown Kind = iota
	// KindTooSmall: the input is empty or below the minimum plausible PDF size.
	KindTooSmall
	// KindWrongExtension: the input filename does not end in .pdf.
	KindWrongExtension
	// KindBadHeader: the first bytes are not the %PDF- signature.
	KindBadHeader
	// KindCorrupt: the document cannot be opened by the raster backend.
	KindCorrupt
	// KindEncrypted: the document is password or permission protected.
	KindEncrypted
	// KindRender: a page could not be rasterized.
	KindRender
	// KindEncode: a raster could not be encoded to the requested format.
	KindEncode
	// KindUsage: API misuse, e.g. operating a finalized output.
	KindUsage
	// KindIO: a read or write on the source or destination failed.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindTooSmall:
		return "InvalidInput:TooSmall"
	case KindWrongExtension:
		return "InvalidInput:WrongExtension"
	case KindBadHeader:
		return "InvalidInput:BadHeader"
	case KindCorrupt:
		return "InvalidInput:Corrupt"
	case KindEncrypted:
		return "InvalidInput:Encrypted"
	case KindRender:
		return "RenderError"
	case KindEncode:
		return "EncodeError"
	case KindUsage:
		return "UsageError"
	case KindIO:
		return "IOError"
	}
	return "Unknown"
}

// InvalidInput reports whether the kind is a pre-conversion input rejection.
func (k Kind) InvalidInput() bool {
	switch k {
	case KindTooSmall, KindWrongExtension, KindBadHeader, KindCorrupt, KindEncrypted:
		return true
	}
	return false
}

// Error carries a Kind plus a human-readable cause.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error with a formatted detail message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or KindUnknown if err does not carry one.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is lets errors.Is match an *Error against a bare Kind probe created with
// New(kind, ""). Matching is by Kind only.
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return fe.Kind == e.Kind
	}
	return false
}
