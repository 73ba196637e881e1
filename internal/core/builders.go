package core

import "fmt"

// BlockBuilder assembles signed, worked blocks. It exists for wallet-side
// construction and for tests; the validator never trusts anything a builder
// produced.
type BlockBuilder struct {
	work WorkOracle
}

// NewBlockBuilder creates a builder that fills in proof of work from the
// given oracle.
func NewBlockBuilder(work WorkOracle) *BlockBuilder {
	return &BlockBuilder{work: work}
}

// State builds a signed state block.
func (bb *BlockBuilder) State(key PrivateKey, previous BlockHash, representative Account, balance Amount, link Link) (*StateBlock, error) {
	account, err := key.PublicKey()
	if err != nil {
		return nil, err
	}
	b := &StateBlock{
		Acc:       account,
		Prev:      previous,
		Rep:       representative,
		Bal:       balance,
		LinkField: link,
	}
	return b, bb.finish(b, key)
}

// LegacySend builds a signed legacy send block.
func (bb *BlockBuilder) LegacySend(key PrivateKey, previous BlockHash, destination Account, balance Amount) (*SendBlock, error) {
	b := &SendBlock{Prev: previous, Dest: destination, Bal: balance}
	return b, bb.finish(b, key)
}

// LegacyReceive builds a signed legacy receive block.
func (bb *BlockBuilder) LegacyReceive(key PrivateKey, previous, source BlockHash) (*ReceiveBlock, error) {
	b := &ReceiveBlock{Prev: previous, Src: source}
	return b, bb.finish(b, key)
}

// LegacyOpen builds a signed legacy open block.
func (bb *BlockBuilder) LegacyOpen(key PrivateKey, source BlockHash, representative Account) (*OpenBlock, error) {
	account, err := key.PublicKey()
	if err != nil {
		return nil, err
	}
	b := &OpenBlock{Src: source, Rep: representative, Acc: account}
	return b, bb.finish(b, key)
}

// LegacyChange builds a signed legacy change block.
func (bb *BlockBuilder) LegacyChange(key PrivateKey, previous BlockHash, representative Account) (*ChangeBlock, error) {
	b := &ChangeBlock{Prev: previous, Rep: representative}
	return b, bb.finish(b, key)
}

func (bb *BlockBuilder) finish(b Block, key PrivateKey) error {
	sig, err := key.Sign(b.Hash().Bytes())
	if err != nil {
		return fmt.Errorf("sign block: %w", err)
	}
	setSignature(b, sig)
	if bb.work != nil {
		nonce, err := bb.work.Generate(b.Root())
		if err != nil {
			return fmt.Errorf("generate work: %w", err)
		}
		setWork(b, nonce)
	}
	return nil
}

func setSignature(b Block, sig Signature) {
	switch blk := b.(type) {
	case *SendBlock:
		blk.Sig = sig
	case *ReceiveBlock:
		blk.Sig = sig
	case *OpenBlock:
		blk.Sig = sig
	case *ChangeBlock:
		blk.Sig = sig
	case *StateBlock:
		blk.Sig = sig
	}
}

func setWork(b Block, work uint64) {
	switch blk := b.(type) {
	case *SendBlock:
		blk.WorkNonce = work
	case *ReceiveBlock:
		blk.WorkNonce = work
	case *OpenBlock:
		blk.WorkNonce = work
	case *ChangeBlock:
		blk.WorkNonce = work
	case *StateBlock:
		blk.WorkNonce = work
	}
}

// StubWorkOracle searches nonces locally against a threshold table. It is
// the oracle used by the dev network and by tests; production nodes plug in
// an external generator.
type StubWorkOracle struct {
	Thresholds WorkThresholds
}

// Generate finds a nonce meeting the hardest threshold by linear search, so
// the result is valid for any block type.
func (o *StubWorkOracle) Generate(root Root) (uint64, error) {
	target := o.Thresholds.Hardest()
	for nonce := uint64(0); ; nonce++ {
		if o.Thresholds.Difficulty(root, nonce) >= target {
			return nonce, nil
		}
	}
}
