// ABOUTME: Tests for the audit live feed
// ABOUTME: Verifies per-agent and wildcard delivery plus cleanup on cancel

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Entry) Entry {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for entry")
		return Entry{}
	}
}

func TestLog_SubscribeByAgent(t *testing.T) {
	l := setupTestLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deviceCh := l.Subscribe(ctx, "device")
	allCh := l.Subscribe(ctx, "")

	require.NoError(t, l.Append(ctx, &Entry{Agent: "research", Action: ActionToolInvoke, Status: StatusExecuted}))
	require.NoError(t, l.Append(ctx, &Entry{Agent: "device", Action: ActionToolInvoke, Status: StatusDenied}))

	assert.Equal(t, "research", receive(t, allCh).Agent)
	assert.Equal(t, "device", receive(t, allCh).Agent)

	got := receive(t, deviceCh)
	assert.Equal(t, StatusDenied, got.Status)
	select {
	case e := <-deviceCh:
		t.Fatalf("unexpected entry for device subscriber: %+v", e)
	default:
	}
}

func TestBroadcaster_UnsubscribeOnCancel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "device")
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(Entry{Agent: "device"})
}

func TestBroadcaster_SubscribeAfterClose(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Close()

	ch, _ := b.Subscribe(context.Background(), "")
	_, ok := <-ch
	assert.False(t, ok)
}
