package node

import (
	"context"
	"sync"

	"github.com/stjet/gobanano/internal/messages"
	"github.com/stjet/gobanano/internal/network"
	"github.com/stjet/gobanano/internal/stats"
)

// realtimeQueueDepth bounds buffered realtime messages per node.
const realtimeQueueDepth = 16384

// realtimeItem is one message accepted by a realtime connection.
type realtimeItem struct {
	msg     messages.Message
	channel network.ChannelID
}

// RealtimeQueue is the FIFO between the per-connection read loops and the
// realtime message worker. Messages from a single channel keep their
// arrival order; across channels no order is guaranteed.
type RealtimeQueue struct {
	stats *stats.Stats

	mu     sync.Mutex
	items  chan realtimeItem
	closed bool
}

func newRealtimeQueue(st *stats.Stats) *RealtimeQueue {
	return &RealtimeQueue{
		stats: st,
		items: make(chan realtimeItem, realtimeQueueDepth),
	}
}

// QueueRealtime implements bootstrap.RealtimeSink.
func (q *RealtimeQueue) QueueRealtime(msg messages.Message, channelID network.ChannelID) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	select {
	case q.items <- realtimeItem{msg: msg, channel: channelID}:
	default:
		q.stats.IncDir(stats.TypeDrop, stats.DetailAll, stats.DirIn)
	}
}

func (q *RealtimeQueue) next(ctx context.Context) (realtimeItem, bool) {
	select {
	case <-ctx.Done():
		return realtimeItem{}, false
	case item := <-q.items:
		return item, true
	}
}

func (q *RealtimeQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
