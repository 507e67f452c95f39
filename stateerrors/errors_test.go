package stateerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorUnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := New(ErrCommitFailure, 1, nil, cause)

	assert.ErrorIs(t, err, ErrCommitFailure)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrOutOfRange)

	wrapped := fmt.Errorf("commit: %w", err)
	assert.ErrorIs(t, wrapped, ErrCommitFailure)
	assert.Equal(t, ErrCommitFailure, Kind(wrapped))
}

func TestErrorMessageCarriesContext(t *testing.T) {
	err := OutOfRange(0, uint256.NewInt(1<<32), 32)
	msg := err.Error()
	assert.Contains(t, msg, "OutOfRange")
	assert.Contains(t, msg, "tree=0")
	assert.Contains(t, msg, "index=4294967296")
}

func TestNewCopiesIndex(t *testing.T) {
	idx := uint256.NewInt(7)
	err := New(ErrInvalidLeaf, 2, idx, nil)
	idx.SetUint64(9)
	require.NotNil(t, err.Index)
	assert.Equal(t, uint64(7), err.Index.Uint64())
}

func TestErrorCodeAndName(t *testing.T) {
	assert.Equal(t, "W3", GetErrorCode(ErrStorageCorruption))
	assert.Equal(t, "StorageCorruption", GetErrorName(ErrStorageCorruption))
	assert.Equal(t, "", GetErrorCode(errors.New("plain")))
	assert.Equal(t, "plain", GetErrorName(errors.New("plain")))
}

func TestKindOfPlainSentinel(t *testing.T) {
	assert.Equal(t, ErrStopped, Kind(fmt.Errorf("x: %w", ErrStopped)))
	assert.Nil(t, Kind(errors.New("other")))
}
