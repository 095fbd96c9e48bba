package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyengine/internal/model"
	"notifyengine/pkg/trace"
)

type fakePublisher struct {
	mu      sync.Mutex
	keys    []string
	dlq     []string
	traces  []string
	failing bool
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return errors.New("broker down")
	}
	p.keys = append(p.keys, routingKey)
	p.traces = append(p.traces, trace.FromContext(ctx))
	return nil
}

func (p *fakePublisher) PublishToDLQ(_ context.Context, routingKey string, _ []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dlq = append(p.dlq, routingKey)
	return nil
}

func (p *fakePublisher) snapshot() ([]string, []string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...), append([]string(nil), p.dlq...), append([]string(nil), p.traces...)
}

func TestAsyncMirror_PublishesAndFlushes(t *testing.T) {
	pub := &fakePublisher{}
	m := NewAsyncMirror(pub, 8, zap.NewNop())
	n := &model.PendingNotification{ID: "n1", UserID: "u1", Status: model.StatusSent}

	ctx := trace.WithContext(context.Background(), "trace-1")
	m.Emit(ctx, FromNotification(TypeSent, n, time.Now()))
	m.Emit(ctx, FromNotification(TypeDeadLettered, n, time.Now()))

	runCtx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(runCtx)

	keys, dlq, traces := pub.snapshot()
	assert.ElementsMatch(t, []string{"notification.sent", "notification.dead_lettered"}, keys)
	assert.Equal(t, []string{"notification.dead_lettered"}, dlq)
	assert.Equal(t, []string{"trace-1", "trace-1"}, traces)
}

func TestAsyncMirror_DropsWhenFull(t *testing.T) {
	pub := &fakePublisher{}
	m := NewAsyncMirror(pub, 1, zap.NewNop())
	n := &model.PendingNotification{ID: "n1"}

	m.Emit(context.Background(), FromNotification(TypeSent, n, time.Now()))
	m.Emit(context.Background(), FromNotification(TypeSent, n, time.Now()))
	require.Len(t, m.queue, 1)
}

func TestAsyncMirror_PublishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{failing: true}
	m := NewAsyncMirror(pub, 4, zap.NewNop())
	m.Emit(context.Background(), Event{Type: TypeFailed, NotificationID: "n1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() { m.Run(ctx) })

	keys, _, _ := pub.snapshot()
	assert.Empty(t, keys)
}
