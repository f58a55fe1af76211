package validation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/dqrunner/internal/validation"
)

func TestFingerprint_Stable(t *testing.T) {
	a, err := validation.Fingerprint([]any{int64(1), "alice", []byte("x")})
	require.NoError(t, err)
	b, err := validation.Fingerprint([]any{int64(1), "alice", "x"})
	require.NoError(t, err)

	assert.Equal(t, a, b, "[]byte and string with the same content must match")
	assert.Len(t, a, 64)
}

func TestFingerprint_TimeNormalizedToUTC(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a, err := validation.Fingerprint([]any{ts})
	require.NoError(t, err)
	b, err := validation.Fingerprint([]any{ts.In(time.FixedZone("X", 3600))})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompare_Identical(t *testing.T) {
	rows := [][]any{{int64(1), "a"}, {int64(2), "b"}}

	d, err := validation.Compare(rows, [][]any{{int64(2), "b"}, {int64(1), "a"}}, 10)
	require.NoError(t, err)
	assert.True(t, d.Passed())
	assert.Equal(t, int64(2), d.SrcCount)
	assert.Equal(t, int64(2), d.DestCount)
	assert.Empty(t, d.SrcOnly)
	assert.Empty(t, d.DestOnly)
}

func TestCompare_Differences(t *testing.T) {
	src := [][]any{{int64(1), "a"}, {int64(2), "b"}, {int64(3), "c"}}
	dest := [][]any{{int64(1), "a"}, {int64(4), "d"}}

	d, err := validation.Compare(src, dest, 10)
	require.NoError(t, err)
	assert.False(t, d.Passed())
	assert.Equal(t, int64(2), d.SrcToDest)
	assert.Equal(t, int64(1), d.DestToSrc)
	assert.Len(t, d.SrcOnly, 2)
	assert.Equal(t, [][]any{{int64(4), "d"}}, d.DestOnly)
}

func TestCompare_MultisetDuplicates(t *testing.T) {
	src := [][]any{{"x"}, {"x"}, {"x"}}
	dest := [][]any{{"x"}}

	d, err := validation.Compare(src, dest, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.SrcToDest)
	assert.Equal(t, int64(0), d.DestToSrc)
	assert.Equal(t, [][]any{{"x"}, {"x"}}, d.SrcOnly)
}

func TestCompare_SampleLimit(t *testing.T) {
	var src [][]any
	for i := 0; i < 20; i++ {
		src = append(src, []any{int64(i)})
	}

	d, err := validation.Compare(src, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(20), d.SrcToDest)
	assert.Len(t, d.SrcOnly, 5)
}

func TestEncodeRows(t *testing.T) {
	s, err := validation.EncodeRows(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)

	s, err = validation.EncodeRows([][]any{{int64(1), []byte("a")}})
	require.NoError(t, err)
	assert.Equal(t, `[[1,"a"]]`, s)
}
