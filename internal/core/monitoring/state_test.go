package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// AggregateState Tests
// =============================================================================

func TestAggregateState(t *testing.T) {
	tests := []struct {
		name   string
		states []string
		want   string
	}{
		{"no containers", nil, StateNotDeployed},
		{"empty slice", []string{}, StateNotDeployed},
		{"single running", []string{"running"}, StateRunning},
		{"all running", []string{"running", "running"}, StateRunning},
		{"single exited", []string{"exited"}, StateStopped},
		{"restarting counts as down", []string{"restarting"}, StateStopped},
		{"created not started", []string{"created"}, StateStopped},
		{"one of two running", []string{"running", "exited"}, StateDegraded},
		{"paused sidecar", []string{"paused", "running"}, StateDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateState(tt.states))
		})
	}
}

func TestHealthy(t *testing.T) {
	assert.True(t, Healthy(StateRunning))
	for _, s := range []string{StateDegraded, StateStopped, StateNotDeployed, StateUnknown} {
		assert.False(t, Healthy(s), s)
	}
}
