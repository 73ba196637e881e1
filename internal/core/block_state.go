package core

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// statePreamble distinguishes state block hashes from legacy ones: 31 zero
// bytes followed by the state type tag.
var statePreamble = func() [32]byte {
	var p [32]byte
	p[31] = byte(BlockTypeState)
	return p
}()

// StateBlock is the self-contained block variant: account, previous,
// representative, balance and link all live in the body, so its semantic
// role (send, receive, change, epoch) is derived by comparing against the
// chain it extends.
type StateBlock struct {
	Acc        Account
	Prev       BlockHash
	Rep        Account
	Bal        Amount
	LinkField  Link
	Sig        Signature
	WorkNonce  uint64
	sideband   *Sideband
	cachedHash lazyHash
}

func (b *StateBlock) Type() BlockType { return BlockTypeState }

func (b *StateBlock) Hash() BlockHash {
	return b.cachedHash.get(func() BlockHash { return HashBytes(b.Hashables()) })
}

func (b *StateBlock) Previous() BlockHash { return b.Prev }

func (b *StateBlock) Root() Root {
	if b.Prev.IsZero() {
		return Root(b.Acc)
	}
	return Root(b.Prev)
}

func (b *StateBlock) Representative() (Account, bool) { return b.Rep, true }
func (b *StateBlock) Balance() (Amount, bool)         { return b.Bal, true }
func (b *StateBlock) SourceOrLink() BlockHash         { return b.LinkField.AsHash() }
func (b *StateBlock) Destination() (Account, bool)    { return b.LinkField.AsAccount(), true }
func (b *StateBlock) AccountField() (Account, bool)   { return b.Acc, true }
func (b *StateBlock) Work() uint64                    { return b.WorkNonce }
func (b *StateBlock) Signature() Signature            { return b.Sig }
func (b *StateBlock) IsLegacy() bool                  { return false }
func (b *StateBlock) Sideband() *Sideband             { return b.sideband }
func (b *StateBlock) SetSideband(s *Sideband)         { b.sideband = s }

// Link returns the raw link field.
func (b *StateBlock) Link() Link { return b.LinkField }

// IsOpen reports whether this state block opens its account chain.
func (b *StateBlock) IsOpen() bool { return b.Prev.IsZero() }

func (b *StateBlock) Hashables() []byte {
	out := make([]byte, 0, 32+AccountSize+HashSize+AccountSize+AmountSize+HashSize)
	out = append(out, statePreamble[:]...)
	out = append(out, b.Acc[:]...)
	out = append(out, b.Prev[:]...)
	out = append(out, b.Rep[:]...)
	out = append(out, b.Bal.Bytes()...)
	out = append(out, b.LinkField[:]...)
	return out
}

func (b *StateBlock) SerializeBody(w io.Writer) error {
	out := make([]byte, 0, 216)
	out = append(out, b.Acc[:]...)
	out = append(out, b.Prev[:]...)
	out = append(out, b.Rep[:]...)
	out = append(out, b.Bal.Bytes()...)
	out = append(out, b.LinkField[:]...)
	out = append(out, b.Sig[:]...)
	var wk [8]byte
	binary.BigEndian.PutUint64(wk[:], b.WorkNonce)
	out = append(out, wk[:]...)
	_, err := w.Write(out)
	return err
}

func deserializeStateBlock(r io.Reader) (*StateBlock, error) {
	var buf [216]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	bal, err := AmountFromBytes(buf[96:112])
	if err != nil {
		return nil, err
	}
	b := &StateBlock{Bal: bal}
	copy(b.Acc[:], buf[0:32])
	copy(b.Prev[:], buf[32:64])
	copy(b.Rep[:], buf[64:96])
	copy(b.LinkField[:], buf[112:144])
	copy(b.Sig[:], buf[144:208])
	b.WorkNonce = binary.BigEndian.Uint64(buf[208:216])
	return b, nil
}

func (b *StateBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type           string `json:"type"`
		Account        string `json:"account"`
		Previous       string `json:"previous"`
		Representative string `json:"representative"`
		Balance        string `json:"balance"`
		Link           string `json:"link"`
		Signature      string `json:"signature"`
		Work           string `json:"work"`
	}{
		Type:           "state",
		Account:        b.Acc.String(),
		Previous:       b.Prev.String(),
		Representative: b.Rep.String(),
		Balance:        b.Bal.String(),
		Link:           b.LinkField.String(),
		Signature:      b.Sig.String(),
		Work:           fmt.Sprintf("%016x", b.WorkNonce),
	})
}
