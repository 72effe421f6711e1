package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("latitude", "out of range")))
	assert.Equal(t, KindPrecondition, KindOf(Precondition("log already certified")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("driver", "d1")))
	assert.Equal(t, KindNotFound, KindOf(Wrap(ErrNotFound, "get log")))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestWrapKeepsKind(t *testing.T) {
	err := Wrapf(Validation("status", "unknown duty status"), "record change for %s", "d1")
	assert.True(t, Is(err, KindValidation))
	assert.Equal(t, "status", FieldOf(err))
	assert.Contains(t, err.Error(), "record change for d1")
	assert.Contains(t, err.Error(), "status: unknown duty status")
}

func TestNotFoundMessage(t *testing.T) {
	err := NotFound("log", "abc")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, `log "abc": not found`, err.Error())
}
