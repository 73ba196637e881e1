// Package node wires the core together: the TCP listener, the realtime
// message pipeline, the block processor and the periodic keepalive and
// purge loops.
package node

import (
	"context"
	"errors"
	"sync"

	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/internal/ledger"
	"github.com/stjet/gobanano/internal/messages"
	"github.com/stjet/gobanano/internal/network"
	"github.com/stjet/gobanano/internal/stats"
	"github.com/stjet/gobanano/pkg/logging"
)

// blockProcessorDepth bounds the queue of unprocessed blocks.
const blockProcessorDepth = 8192

// blockContext is one queued block with its origin, zero for local
// submissions.
type blockContext struct {
	block   core.Block
	channel network.ChannelID
}

// BlockProcessor drains published blocks through the ledger, then gossips
// accepted blocks to a square-root fanout sample of realtime peers.
// Validation runs on its own worker so socket reads never wait on the
// single ledger writer.
type BlockProcessor struct {
	ledger  *ledger.Ledger
	network *network.Network
	stats   *stats.Stats
	log     *logging.Logger

	queue chan blockContext
	wg    sync.WaitGroup
}

// newBlockProcessor creates a stopped processor.
func newBlockProcessor(l *ledger.Ledger, n *network.Network, st *stats.Stats) *BlockProcessor {
	return &BlockProcessor{
		ledger:  l,
		network: n,
		stats:   st,
		log:     logging.GetDefault().Component("blockprocessor"),
		queue:   make(chan blockContext, blockProcessorDepth),
	}
}

func (p *BlockProcessor) start(ctx context.Context, node *Node) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case item := <-p.queue:
				p.process(ctx, node, item)
			}
		}
	}()
}

func (p *BlockProcessor) wait() {
	p.wg.Wait()
}

// Add enqueues a block for processing, dropping when the queue is full.
func (p *BlockProcessor) Add(block core.Block, channel network.ChannelID) bool {
	select {
	case p.queue <- blockContext{block: block, channel: channel}:
		return true
	default:
		p.stats.IncDir(stats.TypeDrop, stats.DetailPublish, stats.DirIn)
		return false
	}
}

func (p *BlockProcessor) process(ctx context.Context, node *Node, item blockContext) {
	err := p.ledger.Process(item.block)
	switch {
	case err == nil:
		p.stats.Inc(stats.TypeBlock, stats.DetailProcessed)
		p.flood(ctx, node, item)
	case errors.Is(err, ledger.ErrBlockExists):
		// Normal gossip duplication.
	case errors.Is(err, ledger.ErrGapPrevious), errors.Is(err, ledger.ErrGapSource):
		// Missing dependency; the bootstrap pipeline will fetch it.
		p.log.Debug("Gap while processing block", "hash", item.block.Hash(), "error", err)
	default:
		p.log.Debug("Rejected block", "hash", item.block.Hash(), "error", err)
	}
}

// flood gossips an accepted block to ceil(sqrt(realtime)) random peers,
// skipping the channel it arrived on.
func (p *BlockProcessor) flood(ctx context.Context, node *Node, item blockContext) {
	publish := &messages.Publish{Block: item.block}
	buffer, err := messages.Serialize(publish, node.constants.Protocol)
	if err != nil {
		p.log.Error("Failed to serialize publish", "error", err)
		return
	}

	for _, channel := range p.network.RandomFanoutRealtime(1.0) {
		if channel.ID() == item.channel {
			continue
		}
		channel.TrySend(buffer, network.DropPolicyCanDrop, network.TrafficGeneric)
	}
}
