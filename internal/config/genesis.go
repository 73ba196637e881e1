package config

import (
	"sync"

	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/pkg/helpers"
)

// LedgerConstants holds the genesis block, its account, and the
// epoch-upgrade table of a network.
type LedgerConstants struct {
	GenesisAccount core.Account
	GenesisBlock   *core.OpenBlock
	Epochs         *core.Epochs
	// BurnAccount is the zero account; funds sent there are unspendable.
	BurnAccount core.Account
}

// DevGenesisKey is the well-known private key of the dev network genesis
// account. It must never be used outside local development.
const DevGenesisKey = "34F0A37AAD20F4A260F0A5B3CB3D7FB50673212263E58A380BC10474BB039CE4"

// Live network genesis, fixed at network launch.
const (
	liveGenesisAccount   = "E89208DD038FBB269987689621D52292AE9C35941A7484756ECCED92A65093BA"
	liveGenesisSignature = "9F0C933C8ADE004D808EA1985FA746A7E95BA2A38F867640F53EC8F180BDFE9E2C1268DEAD7C2664F356E37ABA362BC58E46DBA03E523A7B5A19E4B6EB12BB02"
	liveGenesisWork      = uint64(0x62f05417dd3fb691)
)

var (
	devLedgerOnce  sync.Once
	devLedger      LedgerConstants
	liveLedgerOnce sync.Once
	liveLedger     LedgerConstants
)

// DevLedger returns the dev network ledger constants. The dev genesis is
// derived from DevGenesisKey at first use: signed locally and worked against
// the dev thresholds, so every dev node computes the identical block.
func DevLedger() LedgerConstants {
	devLedgerOnce.Do(func() {
		key, err := hexPrivateKey(DevGenesisKey)
		if err != nil {
			panic(err)
		}
		pub, err := key.PublicKey()
		if err != nil {
			panic(err)
		}

		oracle := &core.StubWorkOracle{Thresholds: core.WorkThresholdsDev}
		builder := core.NewBlockBuilder(oracle)
		genesis, err := builder.LegacyOpen(key, core.BlockHash(pub), pub)
		if err != nil {
			panic(err)
		}

		devLedger = LedgerConstants{
			GenesisAccount: pub,
			GenesisBlock:   genesis,
			Epochs:         epochTable(pub),
		}
	})
	return devLedger
}

// LiveLedger returns the production ledger constants with the literal
// genesis published at network launch.
func LiveLedger() LedgerConstants {
	liveLedgerOnce.Do(func() {
		account, err := core.AccountFromHex(liveGenesisAccount)
		if err != nil {
			panic(err)
		}

		genesis := &core.OpenBlock{
			Src:       core.BlockHash(account),
			Rep:       account,
			Acc:       account,
			WorkNonce: liveGenesisWork,
		}
		var sig core.Signature
		if err := helpers.HexToFixed(liveGenesisSignature, sig[:]); err != nil {
			panic(err)
		}
		genesis.Sig = sig

		liveLedger = LedgerConstants{
			GenesisAccount: account,
			GenesisBlock:   genesis,
			Epochs:         epochTable(account),
		}
	})
	return liveLedger
}

// LedgerConstantsFor maps a network type to its ledger constants. The beta
// network reuses the live epoch scheme with its own genesis signer; it is
// served by the live table here because the beta genesis rotates with each
// beta reset and is distributed out of band.
func LedgerConstantsFor(network NetworkType) LedgerConstants {
	switch network {
	case NetworkDev:
		return DevLedger()
	default:
		return LiveLedger()
	}
}

func epochTable(signer core.PublicKey) *core.Epochs {
	epochs := core.NewEpochs()
	epochs.Add(core.EpochEpoch1, signer, core.EpochLink("epoch v1 block"))
	epochs.Add(core.EpochEpoch2, signer, core.EpochLink("epoch v2 block"))
	return epochs
}

func hexPrivateKey(s string) (core.PrivateKey, error) {
	var raw [32]byte
	if err := helpers.HexToFixed(s, raw[:]); err != nil {
		return core.PrivateKey{}, err
	}
	return core.PrivateKeyFromBytes(raw[:])
}
