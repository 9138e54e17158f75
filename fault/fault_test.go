package fault

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIOUnwrapsCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := NewIO("store0", 42, cause)
	require.Contains(t, err.Error(), "store0")
	require.Contains(t, err.Error(), "disk on fire")
	require.Equal(t, cause, errors.Unwrap(err))
}

func TestBadBatchUnwrapsCause(t *testing.T) {
	cause := errors.New("bad row")
	err := NewBadBatch(7, cause)
	require.Contains(t, err.Error(), "7")
	require.Equal(t, cause, errors.Unwrap(err))
}

func TestSchemaMismatchMessage(t *testing.T) {
	err := NewSchemaMismatch(3, "shape disagreement")
	require.Contains(t, err.Error(), "3")
	require.Contains(t, err.Error(), "shape disagreement")
}

func TestConfigurationMessage(t *testing.T) {
	err := NewConfiguration("batch_size", "must be >= 1")
	require.Contains(t, err.Error(), "batch_size")
}

func TestErrResetIsStableSingleton(t *testing.T) {
	require.Same(t, ErrReset, ErrReset)
	require.Equal(t, "batchreader: reset in progress", ErrReset.Error())
}
