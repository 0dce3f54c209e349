package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus_Terminal(t *testing.T) {
	assert.False(t, RunQueued.Terminal())
	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunSuccess.Terminal())
	assert.True(t, RunFailed.Terminal())
}
