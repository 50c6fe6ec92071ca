package errmark

import (
	stderrors "errors"
	"io/fs"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

var errKind = errors.New("kind")

func TestMark(t *testing.T) {
	cause := errors.Wrap(fs.ErrNotExist, "opening file")
	err := errors.Wrap(Mark(cause, errKind), "loading")

	assert.Equal(t, "loading: opening file: file does not exist", err.Error())

	assert.True(t, stderrors.Is(err, errKind), "standard library sees the mark")
	assert.True(t, errors.Is(err, errKind), "cockroachdb/errors sees the mark")
	assert.True(t, stderrors.Is(err, fs.ErrNotExist), "cause stays reachable")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	assert.False(t, stderrors.Is(err, errors.New("kind")), "marks match by identity")
	assert.False(t, stderrors.Is(cause, errKind))
}

func TestMarkNil(t *testing.T) {
	assert.NoError(t, Mark(nil, errKind))
}
