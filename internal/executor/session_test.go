package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-shuttle/tundra/internal/executor"
	"github.com/cloud-shuttle/tundra/internal/executor/executortest"
	"github.com/cloud-shuttle/tundra/internal/ptypool"
	"github.com/cloud-shuttle/tundra/pkg/types"
)

func TestSpawnSession(t *testing.T) {
	spawner := executortest.NewSpawner("hello\n")
	spawner.Alive = true

	session, err := executor.SpawnSession(spawner, types.CLICodex, "/repo")
	require.NoError(t, err)

	calls := spawner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "codex", calls[0].Command)
	assert.Equal(t, []string{"--approval-mode", "full-auto", "-q"}, calls[0].Args)
	assert.Equal(t, []ptypool.EnvVar{{Key: "PWD", Value: "/repo"}}, calls[0].Env)

	assert.Equal(t, types.CLICodex, session.CLIType())
	assert.True(t, session.IsAlive())

	require.NoError(t, session.SendCommand("analyze"))
	assert.Equal(t, "analyze\n", calls[0].Sent())

	out, ok := session.ReadOutputTimeout(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, "hello\n", string(out))

	_, ok = session.ReadOutputTimeout(context.Background(), 10*time.Millisecond)
	assert.False(t, ok)
	assert.Empty(t, session.ReadOutput())

	status, ok := session.ParseStatus("completed")
	assert.True(t, ok)
	assert.Equal(t, executor.StatusCompleted, status)

	require.NoError(t, session.Kill())
	assert.False(t, session.IsAlive())
}

func TestSpawnSessionFailure(t *testing.T) {
	spawner := executortest.NewSpawner()
	spawner.Err = ptypool.ErrSpawnFailed

	_, err := executor.SpawnSession(spawner, types.CLIClaude, "")
	assert.ErrorIs(t, err, executor.ErrSpawn)
	assert.ErrorIs(t, err, ptypool.ErrSpawnFailed)
}
