package facade

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryShutdownIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	first := r.Shutdown(nil)
	second := r.Shutdown(nil)
	assert.Empty(t, first)
	assert.Empty(t, second, "a second Shutdown call on an empty registry must still be a no-op, not re-run anything")
}
