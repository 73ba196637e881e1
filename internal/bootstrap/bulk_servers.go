package bootstrap

import (
	"bytes"
	"context"
	"time"

	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/internal/ledger"
	"github.com/stjet/gobanano/internal/messages"
	"github.com/stjet/gobanano/internal/network"
)

// bulkPullMaxPerRequest caps an unbounded pull so one request cannot pin the
// connection forever.
const bulkPullMaxPerRequest = 1024 * 1024

// bulkPullServer streams one account chain newest-first, from the frontier
// (or an explicit start hash) back to the end hash, each block framed as a
// type byte plus body, terminated by a NotABlock byte.
type bulkPullServer struct {
	server  *Server
	request *messages.BulkPull
}

func (b *bulkPullServer) serve(ctx context.Context) {
	txn, err := b.server.factory.opts.Ledger.BeginRead()
	if err != nil {
		b.server.log.Error("Bulk pull: failed to open read transaction", "error", err)
		return
	}
	defer txn.Discard()

	current := b.startHash(txn)
	remaining := uint32(bulkPullMaxPerRequest)
	if b.request.Count > 0 {
		remaining = b.request.Count
	}

	for !current.IsZero() && current != b.request.End && remaining > 0 {
		if ctx.Err() != nil || !b.server.channel.IsAlive() {
			return
		}

		block, err := txn.Block(current)
		if err != nil || block == nil {
			break
		}

		var buf bytes.Buffer
		if err := core.SerializeBlock(&buf, block); err != nil {
			return
		}
		if err := b.server.channel.Send(ctx, buf.Bytes(), network.TrafficBootstrap); err != nil {
			return
		}

		current = block.Previous()
		remaining--
	}

	// Terminate the stream.
	_ = b.server.channel.Send(ctx, []byte{byte(core.BlockTypeNotABlock)}, network.TrafficBootstrap)
	b.server.log.Debug("Bulk pull served", "unique_id", b.server.uniqueID,
		"start", b.request.Start, "end", b.request.End)
}

// startHash resolves the request start: an account means its frontier, a
// hash means itself.
func (b *bulkPullServer) startHash(txn ledger.Txn) core.BlockHash {
	asAccount := core.Account(b.request.Start)
	if info, err := txn.Account(asAccount); err == nil && info != nil {
		return info.Head
	}
	if exists, err := txn.BlockExists(b.request.Start); err == nil && exists {
		return b.request.Start
	}
	return core.BlockHash{}
}

// bulkPullAccountServer streams the receivable entries of one account at or
// above a minimum amount: a (head, balance) preamble, then one record per
// entry shaped by the request flags ((hash, amount), (source) only, or
// (hash, amount, source)), terminated by an all-zero record of that shape.
type bulkPullAccountServer struct {
	server  *Server
	request *messages.BulkPullAccount
}

func (b *bulkPullAccountServer) serve(ctx context.Context) {
	txn, err := b.server.factory.opts.Ledger.BeginRead()
	if err != nil {
		b.server.log.Error("Bulk pull account: failed to open read transaction", "error", err)
		return
	}
	defer txn.Discard()

	// Frontier preamble: the account's head and balance.
	var head core.BlockHash
	var balance core.Amount
	if info, err := txn.Account(b.request.Account); err == nil && info != nil {
		head = info.Head
		balance = info.Balance
	}
	var preamble bytes.Buffer
	preamble.Write(head[:])
	preamble.Write(balance.Bytes())
	if err := b.server.channel.Send(ctx, preamble.Bytes(), network.TrafficBootstrap); err != nil {
		return
	}

	err = txn.ForEachPending(b.request.Account, func(key core.PendingKey, info *core.PendingInfo) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.Amount.Cmp(b.request.MinimumAmount) < 0 {
			return nil
		}
		return b.server.channel.Send(ctx, b.record(key, info), network.TrafficBootstrap)
	})
	if err != nil {
		return
	}

	// Zero entry terminates the stream.
	terminator := b.record(core.PendingKey{}, &core.PendingInfo{})
	_ = b.server.channel.Send(ctx, terminator, network.TrafficBootstrap)
}

func (b *bulkPullAccountServer) record(key core.PendingKey, info *core.PendingInfo) []byte {
	var buf bytes.Buffer
	switch b.request.Flags {
	case messages.BulkPullAccountPendingAddressOnly:
		buf.Write(info.Source[:])
	case messages.BulkPullAccountPendingHashAmountAndAddress:
		buf.Write(key.Hash[:])
		buf.Write(info.Amount.Bytes())
		buf.Write(info.Source[:])
	default:
		buf.Write(key.Hash[:])
		buf.Write(info.Amount.Bytes())
	}
	return buf.Bytes()
}

// bulkPushServer reads blocks the peer pushes until the NotABlock
// terminator and forwards them into the realtime pipeline.
type bulkPushServer struct {
	server *Server
}

// bulkPushMaxBlocks bounds one push session.
const bulkPushMaxBlocks = 4096

func (b *bulkPushServer) serve(ctx context.Context) {
	received := 0
	for received < bulkPushMaxBlocks {
		if ctx.Err() != nil || !b.server.channel.IsAlive() {
			return
		}
		_ = b.server.channel.Conn().SetReadDeadline(time.Now().Add(30 * time.Second))
		block, err := core.DeserializeBlock(b.server.channel.Conn())
		if err != nil {
			b.server.channel.Close()
			return
		}
		if block == nil {
			// Terminator.
			return
		}
		received++
		if push := b.server.factory.opts.PushBlock; push != nil {
			push(block, b.server.channel.ID())
		}
	}
}

// frontierReqServer streams (account, frontier) pairs from the start
// account, bounded by the request count and age, terminated with a zero
// pair.
type frontierReqServer struct {
	server  *Server
	request *messages.FrontierReq
}

func (f *frontierReqServer) serve(ctx context.Context) {
	txn, err := f.server.factory.opts.Ledger.BeginRead()
	if err != nil {
		f.server.log.Error("Frontier req: failed to open read transaction", "error", err)
		return
	}
	defer txn.Discard()

	now := uint64(time.Now().Unix())
	count := f.request.Count
	sent := uint32(0)

	// The start account itself is included.
	if info, err := txn.Account(f.request.Start); err == nil && info != nil && count > 0 {
		if f.sendPair(ctx, f.request.Start, info.Head) != nil {
			return
		}
		sent++
	}
	current := f.request.Start

	for sent < count {
		if ctx.Err() != nil || !f.server.channel.IsAlive() {
			return
		}

		account, info, err := txn.NextAccount(current)
		if err != nil {
			break
		}
		current = account

		if f.request.Age != messages.FrontierReqAll && now-info.Modified > uint64(f.request.Age) {
			continue
		}

		if f.sendPair(ctx, account, info.Head) != nil {
			return
		}
		sent++
	}

	// Zero pair terminates the stream.
	var terminator [2 * core.HashSize]byte
	_ = f.server.channel.Send(ctx, terminator[:], network.TrafficBootstrap)
}

func (f *frontierReqServer) sendPair(ctx context.Context, account core.Account, head core.BlockHash) error {
	var buf bytes.Buffer
	buf.Write(account[:])
	buf.Write(head[:])
	return f.server.channel.Send(ctx, buf.Bytes(), network.TrafficBootstrap)
}
