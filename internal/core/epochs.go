package core

// EpochInfo names the signer and link marker of one epoch upgrade.
type EpochInfo struct {
	Signer PublicKey
	Link   Link
}

// Epochs is the table of recognized epoch-upgrade links.
type Epochs struct {
	epochs map[Epoch]EpochInfo
}

// NewEpochs creates an empty epoch table.
func NewEpochs() *Epochs {
	return &Epochs{epochs: make(map[Epoch]EpochInfo)}
}

// Add registers an epoch with its upgrade signer and link marker.
func (e *Epochs) Add(epoch Epoch, signer PublicKey, link Link) {
	e.epochs[epoch] = EpochInfo{Signer: signer, Link: link}
}

// IsEpochLink reports whether the link is a recognized epoch marker.
func (e *Epochs) IsEpochLink(link Link) bool {
	for _, info := range e.epochs {
		if info.Link == link {
			return true
		}
	}
	return false
}

// EpochOf returns the epoch a link upgrades to, or EpochUnspecified.
func (e *Epochs) EpochOf(link Link) Epoch {
	for epoch, info := range e.epochs {
		if info.Link == link {
			return epoch
		}
	}
	return EpochUnspecified
}

// Signer returns the account allowed to sign blocks for the given epoch.
func (e *Epochs) Signer(epoch Epoch) (PublicKey, bool) {
	info, ok := e.epochs[epoch]
	return info.Signer, ok
}

// Link returns the marker link of the given epoch.
func (e *Epochs) Link(epoch Epoch) (Link, bool) {
	info, ok := e.epochs[epoch]
	return info.Link, ok
}

// EpochLink builds the conventional ASCII marker for an upgrade, e.g.
// "epoch v1 block" zero-padded to 32 bytes.
func EpochLink(text string) Link {
	var l Link
	copy(l[:], text)
	return l
}
