package container

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCleanupRunsLIFOAndJoinsErrors(t *testing.T) {
	c := New().SetLogger(zap.NewNop())

	var order []string
	boom := errors.New("boom")
	c.OnCleanup("db", func(context.Context) error {
		order = append(order, "db")
		return nil
	})
	c.OnCleanup("realtime", func(context.Context) error {
		order = append(order, "realtime")
		return boom
	})
	c.OnCleanup("hub", func(context.Context) error {
		order = append(order, "hub")
		return nil
	})

	err := c.Cleanup(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"hub", "realtime", "db"}, order)

	require.NoError(t, c.Cleanup(context.Background()))
	assert.Len(t, order, 3)
}

func TestValidateListsMissingDependencies(t *testing.T) {
	err := New().SetLogger(zap.NewNop()).Validate()

	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, []string{"database (DB)", "read-receipt engine", "messaging service", "Redis client", "realtime manager"}, initErr.MissingDeps)
	assert.Contains(t, err.Error(), "messaging service")
}

func TestLoggerFallsBack(t *testing.T) {
	assert.NotNil(t, New().Logger())
}
