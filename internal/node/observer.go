package node

import (
	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/internal/stats"
	"github.com/stjet/gobanano/internal/websocket"
)

// LedgerObserver forwards ledger lifecycle events to the stats registry and
// the websocket notifier. It holds no channel references; callbacks run in
// commit order.
type LedgerObserver struct {
	stats    *stats.Stats
	notifier *websocket.Server
}

// NewLedgerObserver builds the observer the daemon installs on the ledger.
// The notifier may be nil when websockets are disabled.
func NewLedgerObserver(st *stats.Stats, notifier *websocket.Server) *LedgerObserver {
	return &LedgerObserver{stats: st, notifier: notifier}
}

func (o *LedgerObserver) BlockProcessed(subType core.BlockSubType, block core.Block) {
	detail := map[core.BlockSubType]stats.DetailType{
		core.BlockSubTypeSend:    stats.DetailSend,
		core.BlockSubTypeReceive: stats.DetailReceive,
		core.BlockSubTypeOpen:    stats.DetailOpen,
		core.BlockSubTypeChange:  stats.DetailChange,
		core.BlockSubTypeEpoch:   stats.DetailEpoch,
	}[subType]
	o.stats.Inc(stats.TypeBlock, detail)
}

func (o *LedgerObserver) BlockRolledBack(subType core.BlockSubType) {
	if o.notifier != nil {
		o.notifier.BlockRolledBack(subType)
	}
}

func (o *LedgerObserver) BlockConfirmed(block core.Block) {
	if o.notifier != nil {
		o.notifier.BlockConfirmed(block)
	}
}
