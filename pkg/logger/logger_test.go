package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func useObserver(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	initMu.Lock()
	prevBase, prevSugar := globalBase, globalSugar
	globalBase, globalSugar = base, base.Sugar()
	initMu.Unlock()
	t.Cleanup(func() {
		initMu.Lock()
		globalBase, globalSugar = prevBase, prevSugar
		initMu.Unlock()
	})
	return logs
}

func TestWithFieldsReplacesSameKey(t *testing.T) {
	logs := useObserver(t)

	ctx := WithTenant(context.Background(), "tenant-1")
	ctx = WithConversation(ctx, "tenant-1", "c1")
	ctx = WithConversation(ctx, "tenant-1", "c2")
	ctx = WithFields(ctx, zap.String("agent_id", "a"), zap.String("agent_id", "b"))

	fields := fieldsFrom(ctx)
	require.Len(t, fields, 3)

	Info(ctx, "routed")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, map[string]interface{}{
		"tenant_id":       "tenant-1",
		"conversation_id": "c2",
		"agent_id":        "b",
	}, logs.All()[0].ContextMap())
}

func TestWithFieldsKeepsParentContext(t *testing.T) {
	parent := WithConversation(context.Background(), "tenant-1", "c1")
	child := WithConversation(parent, "tenant-1", "c2")

	assert.Equal(t, "c1", fieldsFrom(parent)[1].String)
	assert.Equal(t, "c2", fieldsFrom(child)[1].String)
}
