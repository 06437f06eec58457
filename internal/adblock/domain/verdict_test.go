package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerdictConstructors(t *testing.T) {
	v := Block(RoleScript, ReasonHeuristic)
	assert.True(t, v.IsBlocked())
	assert.Equal(t, RoleScript, v.Role)
	assert.Equal(t, ReasonHeuristic, v.Reason)

	v = Allow(RoleMainDocument, ReasonGated)
	assert.False(t, v.IsBlocked())
	assert.Equal(t, ReasonGated, v.Reason)
}

func TestEngineStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "ready", StateReady.String())
}
