package stateerrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// World-state errors. The code before '|' is stable across releases.
var (
	ErrOutOfRange        = errors.New("W1|OutOfRange: Leaf index is not below the tree capacity.")
	ErrCommitFailure     = errors.New("W2|CommitFailure: Persistent store rejected the commit batch.")
	ErrStorageCorruption = errors.New("W3|StorageCorruption: Persisted checkpoint is unreadable or inconsistent.")
	ErrConfigMismatch    = errors.New("W4|ConfigMismatch: Tree configuration differs from the persisted image.")
	ErrInvalidLeaf       = errors.New("W5|InvalidLeaf: Leaf value width differs from the tree leaf width.")
	ErrUnknownTree       = errors.New("W6|UnknownTree: Tree identifier is not configured.")
	ErrNotStarted        = errors.New("W7|NotStarted: Forest has not been started.")
	ErrStopped           = errors.New("W8|Stopped: Forest has been stopped.")
	ErrInvalidConfig     = errors.New("W9|InvalidConfig: Tree configuration is invalid.")
)

// NoTree marks an Error that is not tied to a single tree.
const NoTree = -1

// Error carries an error kind together with the tree and leaf it concerns.
type Error struct {
	Kind  error
	Tree  int
	Index *uint256.Int
	Err   error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(GetErrorName(e.Kind))
	if e.Tree != NoTree {
		fmt.Fprintf(&sb, " tree=%d", e.Tree)
	}
	if e.Index != nil {
		fmt.Fprintf(&sb, " index=%s", e.Index.Dec())
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an *Error. index may be nil.
func New(kind error, tree int, index *uint256.Int, cause error) *Error {
	var idx *uint256.Int
	if index != nil {
		idx = new(uint256.Int).Set(index)
	}
	return &Error{Kind: kind, Tree: tree, Index: idx, Err: cause}
}

// OutOfRange reports an index at or above 2^depth.
func OutOfRange(tree int, index *uint256.Int, depth uint8) *Error {
	return New(ErrOutOfRange, tree, index, fmt.Errorf("depth %d", depth))
}

// InvalidLeaf reports a value whose width does not match the tree.
func InvalidLeaf(tree int, index *uint256.Int, got, want int) *Error {
	return New(ErrInvalidLeaf, tree, index, fmt.Errorf("got %d bytes, want %d", got, want))
}

// Corruption reports inconsistent persisted state for a tree.
func Corruption(tree int, format string, args ...any) *Error {
	return New(ErrStorageCorruption, tree, nil, fmt.Errorf(format, args...))
}

// Mismatch reports a configuration that differs from the persisted image.
func Mismatch(tree int, format string, args ...any) *Error {
	return New(ErrConfigMismatch, tree, nil, fmt.Errorf(format, args...))
}

// GetErrorName extracts the error name from a coded error message.
func GetErrorName(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from a coded error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// Kind returns the sentinel kind of err, or nil when err carries none.
func Kind(err error) error {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	for _, k := range []error{
		ErrOutOfRange, ErrCommitFailure, ErrStorageCorruption, ErrConfigMismatch,
		ErrInvalidLeaf, ErrUnknownTree, ErrNotStarted, ErrStopped, ErrInvalidConfig,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
