package apperr

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(KindExecutionInfrastructure, "create scratch dir", os.ErrPermission)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrPermission))
	assert.Equal(t, KindExecutionInfrastructure, KindOf(err))
	assert.Contains(t, err.Error(), "create scratch dir")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindExecutionTimeout, "run", nil))
}

func TestIsComparesKind(t *testing.T) {
	sentinel := New(KindAlreadyRecording, "a recording is already in progress")
	wrapped := fmt.Errorf("start: %w", &Error{Kind: KindAlreadyRecording, Op: "start"})
	assert.True(t, errors.Is(wrapped, sentinel))
	assert.False(t, errors.Is(wrapped, New(KindExecutionTimeout, "")))
	assert.True(t, IsKind(wrapped, KindAlreadyRecording))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
}
