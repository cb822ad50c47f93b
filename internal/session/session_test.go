package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	before := time.Now()
	s := New("morning gait lab", "5.0.0", 20)

	_, err := uuid.Parse(s.ID)
	require.NoError(t, err)

	assert.Equal(t, "morning gait lab", s.Name)
	assert.Equal(t, "5.0.0", s.ExtensionVersion)
	assert.Equal(t, 20.0, s.TickRate)
	assert.False(t, s.StartTime.Before(before))
}

func TestNew_UniqueIDs(t *testing.T) {
	assert.NotEqual(t, New("a", "v", 20).ID, New("b", "v", 20).ID)
}
