package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseConstruction Phase = "construction" // builder and descriptor construction
	PhaseEncoding     Phase = "encoding"     // backend class-file emission
	PhaseLinkage      Phase = "linkage"      // hidden class definition and handle lookup
	PhaseDiscovery    Phase = "discovery"    // single abstract method discovery
	PhaseRuntime      Phase = "runtime"      // host runtime execution
	PhaseParse        Phase = "parse"        // class-file decoding
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidDescriptor             Kind = "invalid_descriptor"
	KindUnsupportedSignatureOperation Kind = "unsupported_signature_operation"
	KindInvalidConstructorInvocation  Kind = "invalid_constructor_invocation"
	KindInvalidConstantField          Kind = "invalid_constant_field"
	KindInvalidInvocationKind         Kind = "invalid_invocation_kind"
	KindLambdaAdaptation              Kind = "lambda_adaptation"
	KindNoAbstractMethod              Kind = "no_abstract_method"
	KindAmbiguousAbstractMethod       Kind = "ambiguous_abstract_method"
	KindInvalidArgument               Kind = "invalid_argument"
	KindOverflow                      Kind = "overflow"
	KindFrame                         Kind = "frame"
	KindClassData                     Kind = "class_data"
	KindNotFound                      Kind = "not_found"
	KindIllegalAccess                 Kind = "illegal_access"
	KindWrongMethodType               Kind = "wrong_method_type"
	KindClassCast                     Kind = "class_cast"
	KindUnsupported                   Kind = "unsupported"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value      any
	Cause      error
	Phase      Phase
	Kind       Kind
	Owner      string
	Member     string
	Descriptor string
	Detail     string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Owner != "" || e.Member != "" {
		b.WriteString(" at ")
		b.WriteString(e.Owner)
		if e.Owner != "" && e.Member != "" {
			b.WriteByte('.')
		}
		b.WriteString(e.Member)
	}

	if e.Descriptor != "" {
		b.WriteString(" ")
		b.WriteString(e.Descriptor)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A sentinel with an empty Phase matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks, matched by kind.
var (
	ErrInvalidDescriptor             = &Error{Kind: KindInvalidDescriptor}
	ErrUnsupportedSignatureOperation = &Error{Kind: KindUnsupportedSignatureOperation}
	ErrInvalidConstructorInvocation  = &Error{Kind: KindInvalidConstructorInvocation}
	ErrInvalidConstantField          = &Error{Kind: KindInvalidConstantField}
	ErrInvalidInvocationKind         = &Error{Kind: KindInvalidInvocationKind}
	ErrLambdaAdaptation              = &Error{Kind: KindLambdaAdaptation}
	ErrNoAbstractMethod              = &Error{Kind: KindNoAbstractMethod}
	ErrAmbiguousAbstractMethod       = &Error{Kind: KindAmbiguousAbstractMethod}
	ErrNotFound                      = &Error{Kind: KindNotFound}
	ErrWrongMethodType               = &Error{Kind: KindWrongMethodType}
	ErrClassCast                     = &Error{Kind: KindClassCast}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Owner sets the owning class of the offending member
func (b *Builder) Owner(owner string) *Builder {
	b.err.Owner = owner
	return b
}

// Member sets the offending member name
func (b *Builder) Member(name string) *Builder {
	b.err.Member = name
	return b
}

// Descriptor sets the offending descriptor string
func (b *Builder) Descriptor(desc string) *Builder {
	b.err.Descriptor = desc
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidDescriptor creates an invalid descriptor error
func InvalidDescriptor(desc, detail string) *Error {
	return &Error{
		Phase:      PhaseConstruction,
		Kind:       KindInvalidDescriptor,
		Descriptor: desc,
		Detail:     detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, value any, target string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf("value %v overflows %s", value, target),
		Value:  value,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Is forwards to the standard library so callers need a single import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As forwards to the standard library so callers need a single import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
