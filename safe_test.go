package synchub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunSafely(t *testing.T) {
	boom := errors.New("boom")

	assert.NoError(t, runSafely("ok", func() error { return nil }))

	err := runSafely("fails", func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "fails: boom")

	err = runSafely("panics", func() error { panic("nil map") })
	assert.EqualError(t, err, "panics: panic recovered: nil map")
}
