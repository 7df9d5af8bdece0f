package log_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloud-shuttle/tundra/internal/log"
)

func TestCtxValues(t *testing.T) {
	tests := map[string]struct {
		first  log.Kv
		second log.Kv
		exp    log.Kv
	}{
		"No values should return an empty set.": {
			exp: log.Kv{},
		},
		"Values should be stored on the context.": {
			first: log.Kv{"task-id": "t1"},
			exp:   log.Kv{"task-id": "t1"},
		},
		"Nested values should be merged, the latest winning.": {
			first:  log.Kv{"task-id": "t1", "phase": "Discovery"},
			second: log.Kv{"phase": "Coding"},
			exp:    log.Kv{"task-id": "t1", "phase": "Coding"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := log.CtxWithValues(context.Background(), test.first)
			ctx = log.CtxWithValues(ctx, test.second)

			assert.Equal(t, test.exp, log.ValuesFromCtx(ctx))
		})
	}
}

func TestNoopIsSilent(t *testing.T) {
	l := log.Noop.WithValues(log.Kv{"k": "v"})
	l.Infof("nothing %d", 1)
	assert.Equal(t, log.Noop, l)

	ctx := context.Background()
	assert.Equal(t, ctx, log.Noop.SetValuesOnCtx(ctx, log.Kv{"k": "v"}))
}
