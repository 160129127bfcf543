package cas

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLimited(t *testing.T) {
	data, err := readLimited(strings.NewReader("abcd"), 4)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))

	_, err = readLimited(strings.NewReader("abcde"), 4)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = readLimited(bytes.NewReader(make([]byte, MaxObjectBytes+1)), MaxObjectBytes)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(errorString("merkledag: not found")))
	assert.True(t, isNotFound(errorString("invalid path \"x\"")))
	assert.False(t, isNotFound(errorString("connection refused")))
}

type errorString string

func (e errorString) Error() string { return string(e) }
