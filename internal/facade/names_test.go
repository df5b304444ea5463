package facade

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateAgentNameShape(t *testing.T) {
	name := GenerateAgentName()
	assert.NotEmpty(t, name)

	found := false
	for _, adj := range adjectives {
		if strings.HasPrefix(name, adj) {
			found = true
			break
		}
	}
	assert.True(t, found, "expected %q to start with a known adjective", name)
}
