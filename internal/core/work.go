package core

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// WorkVersion identifies the proof-of-work algorithm generation.
type WorkVersion uint8

const (
	WorkVersionUnspecified WorkVersion = 0
	WorkVersion1           WorkVersion = 1
)

// WorkThresholds holds the difficulty thresholds per epoch and transaction
// direction. Epoch 2 raised the threshold for sends and lowered it for
// receives.
type WorkThresholds struct {
	Epoch1        uint64
	Epoch2        uint64
	Epoch2Receive uint64
}

// Mainnet thresholds.
var WorkThresholdsFull = WorkThresholds{
	Epoch1:        0xffffffc000000000,
	Epoch2:        0xfffffff800000000,
	Epoch2Receive: 0xfffffe0000000000,
}

// Beta network thresholds; epoch 1 work is one sixty-fourth of mainnet
// epoch 1 difficulty.
var WorkThresholdsBeta = WorkThresholds{
	Epoch1:        0xfffff00000000000,
	Epoch2:        0xfffff00000000000,
	Epoch2Receive: 0xffffe00000000000,
}

// Dev thresholds keep unit tests fast.
var WorkThresholdsDev = WorkThresholds{
	Epoch1:        0xfe00000000000000,
	Epoch2:        0xffc0000000000000,
	Epoch2Receive: 0xf000000000000000,
}

// Base returns the lowest acceptable threshold for any block.
func (w WorkThresholds) Base() uint64 {
	return min64(w.Epoch1, w.Epoch2Receive)
}

// Hardest returns the highest threshold of any block type.
func (w WorkThresholds) Hardest() uint64 {
	out := w.Epoch1
	if w.Epoch2 > out {
		out = w.Epoch2
	}
	if w.Epoch2Receive > out {
		out = w.Epoch2Receive
	}
	return out
}

// Threshold returns the required difficulty for a block with the given
// details.
func (w WorkThresholds) Threshold(details BlockDetails) uint64 {
	switch details.Epoch {
	case EpochEpoch2:
		if details.IsReceive || details.IsEpoch {
			return w.Epoch2Receive
		}
		return w.Epoch2
	default:
		return w.Epoch1
	}
}

// Difficulty computes the work value for a nonce against a root. The digest
// is the 8-byte blake2b of the little-endian nonce followed by the root,
// interpreted little-endian.
func (w WorkThresholds) Difficulty(root Root, work uint64) uint64 {
	h, _ := blake2b.New(8, nil)
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], work)
	h.Write(nonce[:])
	h.Write(root[:])
	return binary.LittleEndian.Uint64(h.Sum(nil))
}

// ValidateWork reports whether the nonce meets the threshold for the block's
// details.
func (w WorkThresholds) ValidateWork(root Root, work uint64, details BlockDetails) bool {
	return w.Difficulty(root, work) >= w.Threshold(details)
}

// WorkOracle generates proof-of-work nonces. Generation is outside the core;
// the node only consumes the interface.
type WorkOracle interface {
	Generate(root Root) (uint64, error)
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
