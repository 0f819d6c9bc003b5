package bf

import (
	"errors"
	"fmt"
)

// ErrorKind classifies interpreter failures. It implements error so that
// callers can match with errors.Is(err, bf.InvalidBracketPair).
type ErrorKind int

const (
	TokenizeError ErrorKind = iota + 1
	InvalidBracketPair
	GetCharError
	NotFoundCloseBracket
	NotFoundOpenBracket
	OutOfBounds
)

// Pos value for kinds that carry no position
const noPos = -1

func (k ErrorKind) String() string {
	switch k {
	case TokenizeError:
		return "TokenizeError"
	case InvalidBracketPair:
		return "InvalidBracketPair"
	case GetCharError:
		return "GetCharError"
	case NotFoundCloseBracket:
		return "NotFoundCloseBracket"
	case NotFoundOpenBracket:
		return "NotFoundOpenBracket"
	case OutOfBounds:
		return "OutOfBounds"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

func (k ErrorKind) Error() string {
	switch k {
	case TokenizeError:
		return "cannot tokenize"
	case InvalidBracketPair:
		return "invalid bracket pair"
	case GetCharError:
		return "cannot read input byte"
	case NotFoundCloseBracket:
		return "no matching close bracket"
	case NotFoundOpenBracket:
		return "no matching open bracket"
	case OutOfBounds:
		return "data pointer out of bounds"
	default:
		return k.String()
	}
}

// Error is the concrete failure returned by every stage of the pipeline.
// Pos is the index into the command sequence, or -1 when the kind has no
// positional detail.
type Error struct {
	Kind ErrorKind
	Pos  int
}

func newError(kind ErrorKind, pos int) *Error {
	return &Error{Kind: kind, Pos: pos}
}

func (e *Error) Error() string {
	if e.Pos < 0 {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s at position %d", e.Kind.Error(), e.Pos)
}

func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case ErrorKind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind && e.Pos == t.Pos
	}
	return false
}

const exitCodeBase = 10

// ExitCode maps an error to a process exit code. Interpreter failures get
// 10+kind so that a parent process can tell them apart; anything else is 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var bfErr *Error
	if errors.As(err, &bfErr) {
		return exitCodeBase + int(bfErr.Kind)
	}
	return 1
}

// KindFromExitCode is the inverse of ExitCode.
func KindFromExitCode(code int) (ErrorKind, bool) {
	k := ErrorKind(code - exitCodeBase)
	if k < TokenizeError || k > OutOfBounds {
		return 0, false
	}
	return k, true
}
