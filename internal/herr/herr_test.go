package herr

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapTranslatesNoRows(t *testing.T) {
	err := Wrap("op", sql.ErrNoRows)
	require.Error(t, err)
	assert.True(t, Is(err, CodeNotFound))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap("op", nil))
}

func TestWrapOtherErrorIsIO(t *testing.T) {
	err := Wrap("op", errors.New("boom"))
	assert.True(t, Is(err, CodeIO))
	assert.False(t, Is(err, CodeNotFound))
}

func TestAsResultSuccess(t *testing.T) {
	r := AsResult(nil)
	assert.True(t, r.Success)
	assert.Nil(t, r.Error)
}

func TestAsResultTypedError(t *testing.T) {
	err := Ambiguous("resolve", []string{"a-1", "a-2"})
	r := AsResult(err)
	require.False(t, r.Success)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeAmbiguous, r.Error.Code)
	assert.Equal(t, []string{"a-1", "a-2"}, r.Error.Details)
}

func TestNotFoundUnwrapsToSentinel(t *testing.T) {
	err := NotFound("op", "cell")
	assert.True(t, errors.Is(err, ErrNotFound))
}
