package core

import (
	"bytes"
	"testing"
)

func testKey(t *testing.T) PrivateKey {
	t.Helper()
	key, err := PrivateKeyFromBytes(bytes.Repeat([]byte{0x11}, 32))
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes() error = %v", err)
	}
	return key
}

func devBuilder() *BlockBuilder {
	return NewBlockBuilder(&StubWorkOracle{Thresholds: WorkThresholdsDev})
}

func TestSerializedBlockSizes(t *testing.T) {
	tests := []struct {
		blockType BlockType
		want      int
	}{
		{BlockTypeSend, 152},
		{BlockTypeReceive, 136},
		{BlockTypeOpen, 168},
		{BlockTypeChange, 136},
		{BlockTypeState, 216},
	}
	for _, tt := range tests {
		got, err := SerializedBlockSize(tt.blockType)
		if err != nil {
			t.Fatalf("SerializedBlockSize(%v) error = %v", tt.blockType, err)
		}
		if got != tt.want {
			t.Errorf("SerializedBlockSize(%v) = %d, want %d", tt.blockType, got, tt.want)
		}
	}

	if _, err := SerializedBlockSize(BlockType(99)); err == nil {
		t.Error("SerializedBlockSize(99) expected error")
	}
}

func TestBlockRoundTrips(t *testing.T) {
	key := testKey(t)
	builder := devBuilder()
	account, _ := key.PublicKey()

	send, err := builder.LegacySend(key, BlockHash{1}, Account{2}, AmountFromUint64(500))
	if err != nil {
		t.Fatalf("LegacySend() error = %v", err)
	}
	receive, err := builder.LegacyReceive(key, BlockHash{3}, BlockHash{4})
	if err != nil {
		t.Fatalf("LegacyReceive() error = %v", err)
	}
	open, err := builder.LegacyOpen(key, BlockHash{5}, Account{6})
	if err != nil {
		t.Fatalf("LegacyOpen() error = %v", err)
	}
	change, err := builder.LegacyChange(key, BlockHash{7}, Account{8})
	if err != nil {
		t.Fatalf("LegacyChange() error = %v", err)
	}
	state, err := builder.State(key, BlockHash{9}, account, AmountFromUint64(12345), Link{10})
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}

	for _, block := range []Block{send, receive, open, change, state} {
		var buf bytes.Buffer
		if err := SerializeBlock(&buf, block); err != nil {
			t.Fatalf("SerializeBlock(%v) error = %v", block.Type(), err)
		}

		wantSize, _ := SerializedBlockSize(block.Type())
		if buf.Len() != wantSize+1 {
			t.Errorf("%v serialized length = %d, want %d", block.Type(), buf.Len(), wantSize+1)
		}

		decoded, err := DeserializeBlock(&buf)
		if err != nil {
			t.Fatalf("DeserializeBlock(%v) error = %v", block.Type(), err)
		}
		if decoded.Hash() != block.Hash() {
			t.Errorf("%v round trip hash = %s, want %s", block.Type(), decoded.Hash(), block.Hash())
		}
		if decoded.Work() != block.Work() {
			t.Errorf("%v round trip work = %d, want %d", block.Type(), decoded.Work(), block.Work())
		}
		if decoded.Signature() != block.Signature() {
			t.Errorf("%v round trip signature mismatch", block.Type())
		}
	}
}

func TestDeserializeNotABlock(t *testing.T) {
	block, err := DeserializeBlock(bytes.NewReader([]byte{byte(BlockTypeNotABlock)}))
	if err != nil {
		t.Fatalf("DeserializeBlock() error = %v", err)
	}
	if block != nil {
		t.Error("DeserializeBlock(not_a_block) = block, want nil")
	}
}

func TestBlockSignature(t *testing.T) {
	key := testKey(t)
	account, err := key.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}

	block, err := devBuilder().State(key, BlockHash{1}, account, AmountFromUint64(7), Link{})
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}

	if !Verify(account, block.Hash().Bytes(), block.Signature()) {
		t.Error("Verify() = false for a correctly signed block")
	}

	tampered := block.Signature()
	tampered[0] ^= 0xff
	if Verify(account, block.Hash().Bytes(), tampered) {
		t.Error("Verify() = true for a tampered signature")
	}

	other := Account{0xaa}
	if Verify(other, block.Hash().Bytes(), block.Signature()) {
		t.Error("Verify() = true for the wrong account")
	}
}

func TestStateBlockRoot(t *testing.T) {
	key := testKey(t)
	account, _ := key.PublicKey()

	open := &StateBlock{Acc: account, Bal: AmountFromUint64(1)}
	if open.Root() != Root(account) {
		t.Errorf("open Root() = %s, want account %s", open.Root(), account)
	}

	extend := &StateBlock{Acc: account, Prev: BlockHash{42}}
	if extend.Root() != Root(BlockHash{42}) {
		t.Errorf("extend Root() = %s, want previous", extend.Root())
	}
}

func TestSidebandRoundTrip(t *testing.T) {
	sideband := &Sideband{
		Height:      42,
		Timestamp:   1700000000,
		Successor:   BlockHash{1, 2},
		Account:     Account{3},
		Balance:     AmountFromUint64(999),
		Details:     BlockDetails{Epoch: EpochEpoch2, IsSend: true},
		SourceEpoch: EpochEpoch1,
	}

	var buf bytes.Buffer
	if err := sideband.Serialize(&buf); err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if buf.Len() != SidebandSize {
		t.Errorf("sideband length = %d, want %d", buf.Len(), SidebandSize)
	}

	decoded, err := DeserializeSideband(&buf)
	if err != nil {
		t.Fatalf("DeserializeSideband() error = %v", err)
	}
	if *decoded != *sideband {
		t.Errorf("round trip = %+v, want %+v", decoded, sideband)
	}
}

func TestBlockDetailsPack(t *testing.T) {
	for _, details := range []BlockDetails{
		{},
		{Epoch: EpochEpoch1, IsSend: true},
		{Epoch: EpochEpoch2, IsReceive: true},
		{Epoch: EpochEpoch2, IsEpoch: true},
	} {
		if got := UnpackBlockDetails(details.Pack()); got != details {
			t.Errorf("UnpackBlockDetails(Pack(%+v)) = %+v", details, got)
		}
	}
}

func TestWorkValidation(t *testing.T) {
	thresholds := WorkThresholdsDev
	oracle := &StubWorkOracle{Thresholds: thresholds}

	root := Root{0xab}
	nonce, err := oracle.Generate(root)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	details := BlockDetails{Epoch: EpochEpoch0}
	if !thresholds.ValidateWork(root, nonce, details) {
		t.Error("ValidateWork() = false for generated work")
	}

	// Find a nonce below the threshold and check it is refused.
	var weak uint64
	for ; thresholds.Difficulty(root, weak) >= thresholds.Threshold(details); weak++ {
	}
	if thresholds.ValidateWork(root, weak, details) {
		t.Error("ValidateWork() = true for insufficient work")
	}
}

func TestWorkHardestCoversAllDetails(t *testing.T) {
	thresholds := WorkThresholdsDev
	hardest := thresholds.Hardest()
	for _, details := range []BlockDetails{
		{Epoch: EpochEpoch0},
		{Epoch: EpochEpoch1, IsSend: true},
		{Epoch: EpochEpoch2, IsSend: true},
		{Epoch: EpochEpoch2, IsReceive: true},
		{Epoch: EpochEpoch2, IsEpoch: true},
	} {
		if thresholds.Threshold(details) > hardest {
			t.Errorf("Threshold(%+v) exceeds Hardest()", details)
		}
	}
}

func TestUniquerSharesEqualBlocks(t *testing.T) {
	key := testKey(t)
	builder := devBuilder()

	// Signing and work search are deterministic, so building twice yields
	// equal blocks.
	a, err := builder.LegacyChange(key, BlockHash{1}, Account{2})
	if err != nil {
		t.Fatalf("LegacyChange() error = %v", err)
	}
	b, err := builder.LegacyChange(key, BlockHash{1}, Account{2})
	if err != nil {
		t.Fatalf("LegacyChange() error = %v", err)
	}
	if a.Hash() != b.Hash() {
		t.Fatal("deterministic builds produced different hashes")
	}

	uniquer := NewUniquer()
	first := uniquer.Unique(a)
	second := uniquer.Unique(b)
	if first != second {
		t.Error("Unique() returned distinct instances for equal blocks")
	}
	if uniquer.Len() != 1 {
		t.Errorf("Len() = %d, want 1", uniquer.Len())
	}
}

func TestEpochTable(t *testing.T) {
	signer := Account{9}
	epochs := NewEpochs()
	epochs.Add(EpochEpoch1, signer, EpochLink("epoch v1 block"))
	epochs.Add(EpochEpoch2, signer, EpochLink("epoch v2 block"))

	if !epochs.IsEpochLink(EpochLink("epoch v1 block")) {
		t.Error("IsEpochLink(v1) = false")
	}
	if epochs.IsEpochLink(Link{1}) {
		t.Error("IsEpochLink(random) = true")
	}
	if got := epochs.EpochOf(EpochLink("epoch v2 block")); got != EpochEpoch2 {
		t.Errorf("EpochOf(v2) = %v, want %v", got, EpochEpoch2)
	}
	if got, ok := epochs.Signer(EpochEpoch1); !ok || got != signer {
		t.Errorf("Signer(epoch1) = %v, %v", got, ok)
	}
}
