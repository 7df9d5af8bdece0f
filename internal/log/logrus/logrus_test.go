package logrus_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/cloud-shuttle/tundra/internal/log"
	loglogrus "github.com/cloud-shuttle/tundra/internal/log/logrus"
)

func TestLogrusFields(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.Out = &buf
	l.SetFormatter(&logrus.JSONFormatter{DisableTimestamp: true})

	logger := loglogrus.NewLogrus(logrus.NewEntry(l)).WithValues(log.Kv{"app": "tundra"})
	ctx := logger.SetValuesOnCtx(context.Background(), log.Kv{"task-id": "t1"})
	logger.WithCtxValues(ctx).Infof("phase %s started", "Coding")

	out := buf.String()
	assert.Contains(t, out, `"app":"tundra"`)
	assert.Contains(t, out, `"task-id":"t1"`)
	assert.Contains(t, out, `"msg":"phase Coding started"`)
}
