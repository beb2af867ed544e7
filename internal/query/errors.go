package query

import (
	"errors"
	"fmt"
)

// ErrUnsupported matches every CompileError through errors.Is.
var ErrUnsupported = errors.New("unsupported construct")

// ErrorKind enumerates the reasons a query cannot be compiled.
type ErrorKind int

const (
	UnsupportedOperator ErrorKind = iota + 1
	UnsupportedMethod
	UnsupportedMember
	UnsupportedConstant
	UnsupportedConversion
	UnsupportedOrdering
	InvalidArgument
)

func (k ErrorKind) String() string {
	switch k {
	case UnsupportedOperator:
		return "unsupported operator"
	case UnsupportedMethod:
		return "unsupported method"
	case UnsupportedMember:
		return "unsupported member"
	case UnsupportedConstant:
		return "unsupported constant"
	case UnsupportedConversion:
		return "unsupported conversion"
	case UnsupportedOrdering:
		return "unsupported ordering"
	case InvalidArgument:
		return "invalid argument"
	}
	return "unknown"
}

// CompileError is returned before any request is made when a query uses a
// construct outside the wire grammar.
type CompileError struct {
	Kind      ErrorKind
	Construct string
	Detail    string
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("query: %s %s", e.Kind, e.Construct)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *CompileError) Is(target error) bool {
	return target == ErrUnsupported
}

func compileErr(kind ErrorKind, construct, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, Construct: construct, Detail: fmt.Sprintf(format, args...)}
}

// SyntaxError reports a malformed wire query.
type SyntaxError struct {
	Param  string
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("query: invalid %s at offset %d: %s", e.Param, e.Offset, e.Msg)
	}
	return fmt.Sprintf("query: invalid %s: %s", e.Param, e.Msg)
}
