package node

import (
	"context"
	"testing"
	"time"

	"github.com/stjet/gobanano/internal/messages"
	"github.com/stjet/gobanano/internal/network"
	"github.com/stjet/gobanano/internal/stats"
)

func TestRealtimeQueueOrdering(t *testing.T) {
	q := newRealtimeQueue(stats.New())

	first := &messages.Keepalive{}
	second := &messages.TelemetryReq{}
	q.QueueRealtime(first, network.ChannelID(1))
	q.QueueRealtime(second, network.ChannelID(1))

	ctx := context.Background()
	got, ok := q.next(ctx)
	if !ok || got.msg != messages.Message(first) {
		t.Fatalf("first next() = %T, %v", got.msg, ok)
	}
	got, ok = q.next(ctx)
	if !ok || got.msg != messages.Message(second) {
		t.Fatalf("second next() = %T, %v", got.msg, ok)
	}
}

func TestRealtimeQueueStopsOnCancel(t *testing.T) {
	q := newRealtimeQueue(stats.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.next(ctx)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Error("next() = ok after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("next() did not observe cancellation")
	}
}

func TestRealtimeQueueDropsWhenClosed(t *testing.T) {
	q := newRealtimeQueue(stats.New())
	q.close()
	q.QueueRealtime(&messages.Keepalive{}, network.ChannelID(1))

	select {
	case <-q.items:
		t.Error("closed queue accepted a message")
	default:
	}
}

func TestHexKeyParsing(t *testing.T) {
	key, err := helpersHexKey("1111111111111111111111111111111111111111111111111111111111111111\n")
	if err != nil {
		t.Fatalf("helpersHexKey() error = %v", err)
	}
	if key[0] != 0x11 || key[31] != 0x11 {
		t.Errorf("parsed key = %x", key[:])
	}

	if _, err := helpersHexKey("zz"); err == nil {
		t.Error("helpersHexKey(invalid) expected error")
	}
}
