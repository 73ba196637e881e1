package core

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// The four legacy block variants predate the self-contained state block.
// Their balances and authors live in the sideband, not the body.

// SendBlock is a legacy send: it lowers the author's balance and credits a
// destination.
type SendBlock struct {
	Prev        BlockHash
	Dest        Account
	Bal         Amount
	Sig         Signature
	WorkNonce   uint64
	sideband    *Sideband
	cachedHash  lazyHash
}

func (b *SendBlock) Type() BlockType { return BlockTypeSend }
func (b *SendBlock) Hash() BlockHash {
	return b.cachedHash.get(func() BlockHash { return HashBytes(b.Hashables()) })
}
func (b *SendBlock) Previous() BlockHash { return b.Prev }
func (b *SendBlock) Root() Root          { return Root(b.Prev) }
func (b *SendBlock) Representative() (Account, bool) { return Account{}, false }
func (b *SendBlock) Balance() (Amount, bool)         { return b.Bal, true }
func (b *SendBlock) SourceOrLink() BlockHash         { return BlockHash{} }
func (b *SendBlock) Destination() (Account, bool)    { return b.Dest, true }
func (b *SendBlock) AccountField() (Account, bool)   { return Account{}, false }
func (b *SendBlock) Work() uint64                    { return b.WorkNonce }
func (b *SendBlock) Signature() Signature            { return b.Sig }
func (b *SendBlock) IsLegacy() bool                  { return true }
func (b *SendBlock) Sideband() *Sideband             { return b.sideband }
func (b *SendBlock) SetSideband(s *Sideband)         { b.sideband = s }

func (b *SendBlock) Hashables() []byte {
	out := make([]byte, 0, HashSize+AccountSize+AmountSize)
	out = append(out, b.Prev[:]...)
	out = append(out, b.Dest[:]...)
	out = append(out, b.Bal.Bytes()...)
	return out
}

func (b *SendBlock) SerializeBody(w io.Writer) error {
	if _, err := w.Write(b.Hashables()); err != nil {
		return err
	}
	return writeSigWork(w, b.Sig, b.WorkNonce)
}

func deserializeSendBlock(r io.Reader) (*SendBlock, error) {
	var buf [152]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	bal, err := AmountFromBytes(buf[64:80])
	if err != nil {
		return nil, err
	}
	b := &SendBlock{Bal: bal}
	copy(b.Prev[:], buf[0:32])
	copy(b.Dest[:], buf[32:64])
	copy(b.Sig[:], buf[80:144])
	b.WorkNonce = binary.BigEndian.Uint64(buf[144:152])
	return b, nil
}

func (b *SendBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        string `json:"type"`
		Previous    string `json:"previous"`
		Destination string `json:"destination"`
		Balance     string `json:"balance"`
		Work        string `json:"work"`
		Signature   string `json:"signature"`
	}{
		Type:        "send",
		Previous:    b.Prev.String(),
		Destination: b.Dest.String(),
		Balance:     b.Bal.Hex(),
		Work:        fmt.Sprintf("%016x", b.WorkNonce),
		Signature:   b.Sig.String(),
	})
}

// ReceiveBlock is a legacy receive: it consumes one pending entry.
type ReceiveBlock struct {
	Prev       BlockHash
	Src        BlockHash
	Sig        Signature
	WorkNonce  uint64
	sideband   *Sideband
	cachedHash lazyHash
}

func (b *ReceiveBlock) Type() BlockType { return BlockTypeReceive }
func (b *ReceiveBlock) Hash() BlockHash {
	return b.cachedHash.get(func() BlockHash { return HashBytes(b.Hashables()) })
}
func (b *ReceiveBlock) Previous() BlockHash              { return b.Prev }
func (b *ReceiveBlock) Root() Root                       { return Root(b.Prev) }
func (b *ReceiveBlock) Representative() (Account, bool)  { return Account{}, false }
func (b *ReceiveBlock) Balance() (Amount, bool)          { return Amount{}, false }
func (b *ReceiveBlock) SourceOrLink() BlockHash          { return b.Src }
func (b *ReceiveBlock) Destination() (Account, bool)     { return Account{}, false }
func (b *ReceiveBlock) AccountField() (Account, bool)    { return Account{}, false }
func (b *ReceiveBlock) Work() uint64                     { return b.WorkNonce }
func (b *ReceiveBlock) Signature() Signature             { return b.Sig }
func (b *ReceiveBlock) IsLegacy() bool                   { return true }
func (b *ReceiveBlock) Sideband() *Sideband              { return b.sideband }
func (b *ReceiveBlock) SetSideband(s *Sideband)          { b.sideband = s }

func (b *ReceiveBlock) Hashables() []byte {
	out := make([]byte, 0, 2*HashSize)
	out = append(out, b.Prev[:]...)
	out = append(out, b.Src[:]...)
	return out
}

func (b *ReceiveBlock) SerializeBody(w io.Writer) error {
	if _, err := w.Write(b.Hashables()); err != nil {
		return err
	}
	return writeSigWork(w, b.Sig, b.WorkNonce)
}

func deserializeReceiveBlock(r io.Reader) (*ReceiveBlock, error) {
	var buf [136]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	b := &ReceiveBlock{}
	copy(b.Prev[:], buf[0:32])
	copy(b.Src[:], buf[32:64])
	copy(b.Sig[:], buf[64:128])
	b.WorkNonce = binary.BigEndian.Uint64(buf[128:136])
	return b, nil
}

func (b *ReceiveBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		Previous  string `json:"previous"`
		Source    string `json:"source"`
		Work      string `json:"work"`
		Signature string `json:"signature"`
	}{
		Type:      "receive",
		Previous:  b.Prev.String(),
		Source:    b.Src.String(),
		Work:      fmt.Sprintf("%016x", b.WorkNonce),
		Signature: b.Sig.String(),
	})
}

// OpenBlock is a legacy open: the first block of an account chain.
type OpenBlock struct {
	Src        BlockHash
	Rep        Account
	Acc        Account
	Sig        Signature
	WorkNonce  uint64
	sideband   *Sideband
	cachedHash lazyHash
}

func (b *OpenBlock) Type() BlockType { return BlockTypeOpen }
func (b *OpenBlock) Hash() BlockHash {
	return b.cachedHash.get(func() BlockHash { return HashBytes(b.Hashables()) })
}
func (b *OpenBlock) Previous() BlockHash             { return BlockHash{} }
func (b *OpenBlock) Root() Root                      { return Root(b.Acc) }
func (b *OpenBlock) Representative() (Account, bool) { return b.Rep, true }
func (b *OpenBlock) Balance() (Amount, bool)         { return Amount{}, false }
func (b *OpenBlock) SourceOrLink() BlockHash         { return b.Src }
func (b *OpenBlock) Destination() (Account, bool)    { return Account{}, false }
func (b *OpenBlock) AccountField() (Account, bool)   { return b.Acc, true }
func (b *OpenBlock) Work() uint64                    { return b.WorkNonce }
func (b *OpenBlock) Signature() Signature            { return b.Sig }
func (b *OpenBlock) IsLegacy() bool                  { return true }
func (b *OpenBlock) Sideband() *Sideband             { return b.sideband }
func (b *OpenBlock) SetSideband(s *Sideband)         { b.sideband = s }

func (b *OpenBlock) Hashables() []byte {
	out := make([]byte, 0, HashSize+2*AccountSize)
	out = append(out, b.Src[:]...)
	out = append(out, b.Rep[:]...)
	out = append(out, b.Acc[:]...)
	return out
}

func (b *OpenBlock) SerializeBody(w io.Writer) error {
	if _, err := w.Write(b.Hashables()); err != nil {
		return err
	}
	return writeSigWork(w, b.Sig, b.WorkNonce)
}

func deserializeOpenBlock(r io.Reader) (*OpenBlock, error) {
	var buf [168]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	b := &OpenBlock{}
	copy(b.Src[:], buf[0:32])
	copy(b.Rep[:], buf[32:64])
	copy(b.Acc[:], buf[64:96])
	copy(b.Sig[:], buf[96:160])
	b.WorkNonce = binary.BigEndian.Uint64(buf[160:168])
	return b, nil
}

func (b *OpenBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type           string `json:"type"`
		Source         string `json:"source"`
		Representative string `json:"representative"`
		Account        string `json:"account"`
		Work           string `json:"work"`
		Signature      string `json:"signature"`
	}{
		Type:           "open",
		Source:         b.Src.String(),
		Representative: b.Rep.String(),
		Account:        b.Acc.String(),
		Work:           fmt.Sprintf("%016x", b.WorkNonce),
		Signature:      b.Sig.String(),
	})
}

// ChangeBlock is a legacy representative change. It moves no value.
type ChangeBlock struct {
	Prev       BlockHash
	Rep        Account
	Sig        Signature
	WorkNonce  uint64
	sideband   *Sideband
	cachedHash lazyHash
}

func (b *ChangeBlock) Type() BlockType { return BlockTypeChange }
func (b *ChangeBlock) Hash() BlockHash {
	return b.cachedHash.get(func() BlockHash { return HashBytes(b.Hashables()) })
}
func (b *ChangeBlock) Previous() BlockHash             { return b.Prev }
func (b *ChangeBlock) Root() Root                      { return Root(b.Prev) }
func (b *ChangeBlock) Representative() (Account, bool) { return b.Rep, true }
func (b *ChangeBlock) Balance() (Amount, bool)         { return Amount{}, false }
func (b *ChangeBlock) SourceOrLink() BlockHash         { return BlockHash{} }
func (b *ChangeBlock) Destination() (Account, bool)    { return Account{}, false }
func (b *ChangeBlock) AccountField() (Account, bool)   { return Account{}, false }
func (b *ChangeBlock) Work() uint64                    { return b.WorkNonce }
func (b *ChangeBlock) Signature() Signature            { return b.Sig }
func (b *ChangeBlock) IsLegacy() bool                  { return true }
func (b *ChangeBlock) Sideband() *Sideband             { return b.sideband }
func (b *ChangeBlock) SetSideband(s *Sideband)         { b.sideband = s }

func (b *ChangeBlock) Hashables() []byte {
	out := make([]byte, 0, HashSize+AccountSize)
	out = append(out, b.Prev[:]...)
	out = append(out, b.Rep[:]...)
	return out
}

func (b *ChangeBlock) SerializeBody(w io.Writer) error {
	if _, err := w.Write(b.Hashables()); err != nil {
		return err
	}
	return writeSigWork(w, b.Sig, b.WorkNonce)
}

func deserializeChangeBlock(r io.Reader) (*ChangeBlock, error) {
	var buf [136]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	b := &ChangeBlock{}
	copy(b.Prev[:], buf[0:32])
	copy(b.Rep[:], buf[32:64])
	copy(b.Sig[:], buf[64:128])
	b.WorkNonce = binary.BigEndian.Uint64(buf[128:136])
	return b, nil
}

func (b *ChangeBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type           string `json:"type"`
		Previous       string `json:"previous"`
		Representative string `json:"representative"`
		Work           string `json:"work"`
		Signature      string `json:"signature"`
	}{
		Type:           "change",
		Previous:       b.Prev.String(),
		Representative: b.Rep.String(),
		Work:           fmt.Sprintf("%016x", b.WorkNonce),
		Signature:      b.Sig.String(),
	})
}

func writeSigWork(w io.Writer, sig Signature, work uint64) error {
	if _, err := w.Write(sig[:]); err != nil {
		return err
	}
	var wk [8]byte
	binary.BigEndian.PutUint64(wk[:], work)
	_, err := w.Write(wk[:])
	return err
}
