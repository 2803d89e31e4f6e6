package fault

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnrecoverableIf(t *testing.T) {
	t.Run("false condition does nothing", func(t *testing.T) {
		assert.NotPanics(t, func() {
			UnrecoverableIf(false, "never")
		})
	})

	t.Run("true condition panics with a fault", func(t *testing.T) {
		assert.PanicsWithError(t, "unrecoverable fault: ring buffer 2 missing", func() {
			UnrecoverableIf(true, "ring buffer %d missing", 2)
		})
	})
}

func TestRecovered(t *testing.T) {
	var got *Fault
	func() {
		defer func() {
			f, ok := Recovered(recover())
			assert.True(t, ok)
			got = f
		}()
		Raise("boom")
	}()
	if assert.NotNil(t, got) {
		assert.Equal(t, "boom", got.Reason)
	}

	_, ok := Recovered("plain panic")
	assert.False(t, ok)
}
