package messages

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/core"
)

func devProtocol() config.ProtocolInfo {
	return config.DevNetwork().Protocol
}

func newTestDeserializer() *Deserializer {
	return NewDeserializer(devProtocol(), nil, nil, nil)
}

func roundTrip(t *testing.T, d *Deserializer, m Message) Message {
	t.Helper()
	buffer, err := Serialize(m, devProtocol())
	if err != nil {
		t.Fatalf("Serialize(%v) error = %v", m.Type(), err)
	}

	decoded, err := d.Read(bytes.NewReader(buffer))
	if err != nil {
		t.Fatalf("Read(%v) error = %v", m.Type(), err)
	}
	if decoded.Type() != m.Type() {
		t.Fatalf("round trip type = %v, want %v", decoded.Type(), m.Type())
	}

	// Re-encoding must be byte-identical: encode length is deterministic.
	reencoded, err := Serialize(decoded, devProtocol())
	if err != nil {
		t.Fatalf("re-Serialize(%v) error = %v", m.Type(), err)
	}
	if !bytes.Equal(buffer, reencoded) {
		t.Errorf("%v re-encoding differs", m.Type())
	}
	return decoded
}

func testBlock(t *testing.T) core.Block {
	t.Helper()
	key, err := core.PrivateKeyFromBytes(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes() error = %v", err)
	}
	builder := core.NewBlockBuilder(&core.StubWorkOracle{Thresholds: core.WorkThresholdsDev})
	account, _ := key.PublicKey()
	block, err := builder.State(key, core.BlockHash{1}, account, core.AmountFromUint64(42), core.Link{2})
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	return block
}

func TestHeaderRoundTrip(t *testing.T) {
	h := NewHeader(devProtocol(), MsgPublish)
	h.SetBlockType(core.BlockTypeState)

	var buf bytes.Buffer
	if err := h.Serialize(&buf); err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if buf.Len() != HeaderSize {
		t.Fatalf("header length = %d, want %d", buf.Len(), HeaderSize)
	}

	decoded, err := DeserializeHeader(&buf)
	if err != nil {
		t.Fatalf("DeserializeHeader() error = %v", err)
	}
	if decoded != h {
		t.Errorf("round trip = %+v, want %+v", decoded, h)
	}
	if decoded.BlockType() != core.BlockTypeState {
		t.Errorf("BlockType() = %v, want state", decoded.BlockType())
	}
}

func TestHeaderExtensionsLittleEndian(t *testing.T) {
	h := NewHeader(devProtocol(), MsgConfirmAck)
	h.Extensions = 0x1234

	var buf bytes.Buffer
	if err := h.Serialize(&buf); err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	raw := buf.Bytes()
	if raw[6] != 0x34 || raw[7] != 0x12 {
		t.Errorf("extensions bytes = %02x %02x, want 34 12", raw[6], raw[7])
	}
}

func TestKeepaliveRoundTrip(t *testing.T) {
	m := &Keepalive{}
	m.Peers[0] = netip.AddrPortFrom(netip.MustParseAddr("::1"), 7071)
	m.Peers[1] = netip.AddrPortFrom(netip.MustParseAddr("2001:db8::1"), 54000)
	for i := 2; i < KeepalivePeers; i++ {
		m.Peers[i] = netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
	}

	decoded := roundTrip(t, newTestDeserializer(), m).(*Keepalive)
	if decoded.Peers[0].Port() != 7071 {
		t.Errorf("peer 0 port = %d, want 7071", decoded.Peers[0].Port())
	}
	if decoded.Peers[1] != m.Peers[1] {
		t.Errorf("peer 1 = %v, want %v", decoded.Peers[1], m.Peers[1])
	}
}

func TestPublishRoundTrip(t *testing.T) {
	block := testBlock(t)
	decoded := roundTrip(t, newTestDeserializer(), &Publish{Block: block}).(*Publish)
	if decoded.Block.Hash() != block.Hash() {
		t.Errorf("block hash = %s, want %s", decoded.Block.Hash(), block.Hash())
	}
}

func TestPublishDeduplication(t *testing.T) {
	filter := NewNetworkFilter(1024)
	d := NewDeserializer(devProtocol(), filter, nil, nil)

	buffer, err := Serialize(&Publish{Block: testBlock(t)}, devProtocol())
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	if _, err := d.Read(bytes.NewReader(buffer)); err != nil {
		t.Fatalf("first Read() error = %v", err)
	}
	if _, err := d.Read(bytes.NewReader(buffer)); !errors.Is(err, ErrDuplicatePublish) {
		t.Errorf("second Read() error = %v, want ErrDuplicatePublish", err)
	}
}

func TestConfirmReqRoundTrips(t *testing.T) {
	d := newTestDeserializer()

	withBlock := roundTrip(t, d, &ConfirmReq{Block: testBlock(t)}).(*ConfirmReq)
	if withBlock.Block == nil {
		t.Fatal("block-mode confirm_req lost its block")
	}

	pairs := []HashRoot{
		{Hash: core.BlockHash{1}, Root: core.Root{2}},
		{Hash: core.BlockHash{3}, Root: core.Root{4}},
	}
	withRoots := roundTrip(t, d, &ConfirmReq{RootHashes: pairs}).(*ConfirmReq)
	if len(withRoots.RootHashes) != 2 {
		t.Fatalf("root hashes = %d, want 2", len(withRoots.RootHashes))
	}
	if withRoots.RootHashes[1] != pairs[1] {
		t.Errorf("pair 1 = %+v, want %+v", withRoots.RootHashes[1], pairs[1])
	}
}

func TestConfirmAckRoundTripAndSignature(t *testing.T) {
	key, err := core.PrivateKeyFromBytes(bytes.Repeat([]byte{9}, 32))
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes() error = %v", err)
	}
	account, _ := key.PublicKey()

	vote := Vote{
		Account:   account,
		Timestamp: 0xffffffffffffff00,
		Hashes:    []core.BlockHash{{1}, {2}, {3}},
	}
	digest := vote.SignedDigest()
	sig, err := key.Sign(digest.Bytes())
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	vote.Sig = sig

	decoded := roundTrip(t, newTestDeserializer(), &ConfirmAck{Vote: vote}).(*ConfirmAck)
	if len(decoded.Vote.Hashes) != 3 {
		t.Fatalf("hashes = %d, want 3", len(decoded.Vote.Hashes))
	}
	if !decoded.Vote.Validate() {
		t.Error("Validate() = false for a correctly signed vote")
	}

	decoded.Vote.Hashes[0] = core.BlockHash{0xbb}
	if decoded.Vote.Validate() {
		t.Error("Validate() = true after hash tampering")
	}
}

func TestBulkMessagesRoundTrip(t *testing.T) {
	d := newTestDeserializer()

	plain := roundTrip(t, d, &BulkPull{Start: core.BlockHash{1}, End: core.BlockHash{2}}).(*BulkPull)
	if plain.Count != 0 {
		t.Errorf("count = %d, want 0", plain.Count)
	}

	extended := roundTrip(t, d, &BulkPull{Start: core.BlockHash{1}, Count: 128}).(*BulkPull)
	if extended.Count != 128 {
		t.Errorf("extended count = %d, want 128", extended.Count)
	}

	account := roundTrip(t, d, &BulkPullAccount{
		Account:       core.Account{5},
		MinimumAmount: core.AmountFromUint64(1000),
		Flags:         BulkPullAccountPendingHashAmountAndAddress,
	}).(*BulkPullAccount)
	if account.MinimumAmount.Uint64() != 1000 {
		t.Errorf("minimum = %s, want 1000", account.MinimumAmount)
	}

	frontier := roundTrip(t, d, &FrontierReq{Start: core.Account{6}, Age: 3600, Count: 1000}).(*FrontierReq)
	if frontier.Age != 3600 || frontier.Count != 1000 {
		t.Errorf("frontier req = %+v", frontier)
	}

	roundTrip(t, d, &BulkPush{})
	roundTrip(t, d, &TelemetryReq{})
}

func TestHandshakeRoundTrip(t *testing.T) {
	d := newTestDeserializer()

	query := &NodeIDHandshake{Query: &HandshakeQuery{Cookie: [CookieSize]byte{1, 2, 3}}}
	decodedQuery := roundTrip(t, d, query).(*NodeIDHandshake)
	if decodedQuery.Query == nil || decodedQuery.Response != nil {
		t.Fatal("query-only handshake decoded wrong")
	}

	key, err := core.PrivateKeyFromBytes(bytes.Repeat([]byte{3}, 32))
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes() error = %v", err)
	}
	nodeID, _ := key.PublicKey()
	sig, err := key.Sign(query.Query.Cookie[:])
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	both := &NodeIDHandshake{
		Query:    &HandshakeQuery{Cookie: [CookieSize]byte{9}},
		Response: &HandshakeResponse{NodeID: nodeID, Signature: sig},
	}
	decoded := roundTrip(t, d, both).(*NodeIDHandshake)
	if decoded.Query == nil || decoded.Response == nil {
		t.Fatal("combined handshake decoded wrong")
	}
	if !decoded.Response.Validate(query.Query.Cookie) {
		t.Error("Validate() = false for a correctly signed cookie")
	}
	if decoded.Response.Validate([CookieSize]byte{0xee}) {
		t.Error("Validate() = true for the wrong cookie")
	}
}

func TestTelemetryAckRoundTrip(t *testing.T) {
	key, err := core.PrivateKeyFromBytes(bytes.Repeat([]byte{5}, 32))
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes() error = %v", err)
	}
	nodeID, _ := key.PublicKey()

	ack := &TelemetryAck{Data: TelemetryData{
		NodeID:          nodeID,
		BlockCount:      1234,
		AccountCount:    99,
		PeerCount:       7,
		ProtocolVersion: 19,
		Genesis:         core.BlockHash{0xaa},
		Timestamp:       1700000000000,
	}}
	if err := ack.Data.Sign(key); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	decoded := roundTrip(t, newTestDeserializer(), ack).(*TelemetryAck)
	if decoded.Data.BlockCount != 1234 || decoded.Data.PeerCount != 7 {
		t.Errorf("telemetry data = %+v", decoded.Data)
	}
	if !decoded.Data.Validate() {
		t.Error("Validate() = false for signed telemetry")
	}
}

func TestAscPullRoundTrips(t *testing.T) {
	d := newTestDeserializer()

	blocksReq := roundTrip(t, d, &AscPullReq{
		ID:       77,
		PullType: AscPullBlocks,
		Blocks:   &BlocksReqPayload{Start: core.BlockHash{1}, Count: 64, StartType: HashTypeAccount},
	}).(*AscPullReq)
	if blocksReq.ID != 77 || blocksReq.Blocks.Count != 64 {
		t.Errorf("blocks req = %+v", blocksReq)
	}

	accountReq := roundTrip(t, d, &AscPullReq{
		ID:       78,
		PullType: AscPullAccountInfo,
		Account:  &AccountInfoReqPayload{Target: core.BlockHash{2}},
	}).(*AscPullReq)
	if accountReq.Account == nil {
		t.Fatal("account req lost payload")
	}

	blocksAck := roundTrip(t, d, AckBlocks(77, []core.Block{testBlock(t)})).(*AscPullAck)
	if len(blocksAck.Blocks.Blocks) != 1 {
		t.Fatalf("ack blocks = %d, want 1", len(blocksAck.Blocks.Blocks))
	}

	emptyAck := roundTrip(t, d, AckBlocks(79, nil)).(*AscPullAck)
	if len(emptyAck.Blocks.Blocks) != 0 {
		t.Errorf("empty ack blocks = %d, want 0", len(emptyAck.Blocks.Blocks))
	}

	infoAck := roundTrip(t, d, AckAccountInfo(80, &AccountInfoAckPayload{
		Account:           core.Account{1},
		AccountOpen:       core.BlockHash{2},
		AccountHead:       core.BlockHash{3},
		AccountBlockCount: 4,
		AccountConfHeight: 3,
	})).(*AscPullAck)
	if infoAck.Account.AccountBlockCount != 4 {
		t.Errorf("info ack = %+v", infoAck.Account)
	}
}

func TestDeserializerRejectsWrongNetwork(t *testing.T) {
	buffer, err := Serialize(&TelemetryReq{}, config.LiveNetwork().Protocol)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if _, err := newTestDeserializer().Read(bytes.NewReader(buffer)); !errors.Is(err, ErrInvalidNetwork) {
		t.Errorf("Read(wrong network) error = %v, want ErrInvalidNetwork", err)
	}
}

func TestDeserializerRejectsUnknownType(t *testing.T) {
	h := NewHeader(devProtocol(), MessageType(0x77))
	var buf bytes.Buffer
	if err := h.Serialize(&buf); err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if _, err := newTestDeserializer().Read(&buf); !errors.Is(err, ErrUnknownMessageType) {
		t.Errorf("Read(unknown type) error = %v, want ErrUnknownMessageType", err)
	}
}

func TestDeserializerRejectsUnknownExtensions(t *testing.T) {
	h := NewHeader(devProtocol(), MsgKeepalive)
	h.Extensions = 0x0001 // keepalive defines no extension bits
	var buf bytes.Buffer
	if err := h.Serialize(&buf); err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if _, err := newTestDeserializer().Read(&buf); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("Read(bad extensions) error = %v, want ErrInvalidHeader", err)
	}
}

func TestNetworkFilterClearDigest(t *testing.T) {
	filter := NewNetworkFilter(64)
	payload := []byte("payload")

	digest, existed := filter.Apply(payload)
	if existed {
		t.Fatal("first Apply() reported duplicate")
	}
	if _, existed := filter.Apply(payload); !existed {
		t.Fatal("second Apply() missed duplicate")
	}

	filter.ClearDigest(digest)
	if _, existed := filter.Apply(payload); existed {
		t.Error("Apply() after ClearDigest reported duplicate")
	}
}
