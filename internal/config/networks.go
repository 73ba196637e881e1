// Package config provides centralized configuration for the gobanano node:
// network constants, protocol parameters, genesis definitions and the
// YAML-backed node configuration. Protocol-level parameters MUST be defined
// here rather than hardcoded elsewhere.
package config

import (
	"time"

	"github.com/stjet/gobanano/internal/core"
)

// NetworkType selects the network a node participates in.
type NetworkType string

const (
	NetworkLive NetworkType = "live"
	NetworkBeta NetworkType = "beta"
	NetworkDev  NetworkType = "dev"
)

// ProtocolInfo is the static part of every message header.
type ProtocolInfo struct {
	NetworkID    uint16
	VersionMax   uint8
	VersionUsing uint8
	VersionMin   uint8
}

// Network id magic: 'R' followed by a network discriminator.
const (
	networkIDLive = uint16('R')<<8 | uint16('C')
	networkIDBeta = uint16('R')<<8 | uint16('B')
	networkIDDev  = uint16('R')<<8 | uint16('X')
)

// NetworkConstants bundles everything protocol behavior depends on per
// network.
type NetworkConstants struct {
	Network            NetworkType
	Protocol           ProtocolInfo
	DefaultPeeringPort uint16

	// Connection limits.
	MaxPeersPerIP         int
	MaxPeersPerSubnetwork int
	MaxInboundConnections int

	// Timing.
	KeepalivePeriod     time.Duration
	IdleCutoff          time.Duration
	SilentConnectionTolerance time.Duration
	TelemetryCacheCutoff time.Duration

	// Work.
	WorkThresholds core.WorkThresholds
}

// LiveNetwork returns the production network constants.
func LiveNetwork() NetworkConstants {
	return NetworkConstants{
		Network:            NetworkLive,
		Protocol:           ProtocolInfo{NetworkID: networkIDLive, VersionMax: 19, VersionUsing: 19, VersionMin: 18},
		DefaultPeeringPort: 7071,

		MaxPeersPerIP:         4,
		MaxPeersPerSubnetwork: 16,
		MaxInboundConnections: 2048,

		KeepalivePeriod:           15 * time.Second,
		IdleCutoff:                60 * time.Second,
		SilentConnectionTolerance: 120 * time.Second,
		TelemetryCacheCutoff:      60 * time.Second,

		WorkThresholds: core.WorkThresholdsFull,
	}
}

// BetaNetwork returns the public test network constants.
func BetaNetwork() NetworkConstants {
	c := LiveNetwork()
	c.Network = NetworkBeta
	c.Protocol.NetworkID = networkIDBeta
	c.DefaultPeeringPort = 54000
	c.TelemetryCacheCutoff = 15 * time.Second
	c.WorkThresholds = core.WorkThresholdsBeta
	return c
}

// DevNetwork returns the local development network constants, tuned so unit
// tests run fast.
func DevNetwork() NetworkConstants {
	c := LiveNetwork()
	c.Network = NetworkDev
	c.Protocol.NetworkID = networkIDDev
	c.DefaultPeeringPort = 44000
	c.MaxPeersPerIP = 20
	c.MaxPeersPerSubnetwork = 20
	c.KeepalivePeriod = 1 * time.Second
	c.IdleCutoff = 5 * time.Second
	c.TelemetryCacheCutoff = 500 * time.Millisecond
	c.WorkThresholds = core.WorkThresholdsDev
	return c
}

// NetworkConstantsFor maps a network type to its constants.
func NetworkConstantsFor(network NetworkType) NetworkConstants {
	switch network {
	case NetworkBeta:
		return BetaNetwork()
	case NetworkDev:
		return DevNetwork()
	default:
		return LiveNetwork()
	}
}

// NodeFlags are operational switches, mostly used to relax limits in tests
// and bootstrapping tools.
type NodeFlags struct {
	DisableMaxPeersPerIP         bool
	DisableMaxPeersPerSubnetwork bool
	DisableTCPRealtime           bool
	DisableBootstrapListener     bool
	DisableBootstrapBulkPull     bool
	AllowLocalPeers              bool
}
