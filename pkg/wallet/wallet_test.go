package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hakoda-dev/scrollns/pkg/crypto"
	"github.com/hakoda-dev/scrollns/pkg/keys"
	"github.com/hakoda-dev/scrollns/pkg/session"
)

// fakeBackend is an in-memory Backend for exercising the interface
// contract without a real payment engine.
type fakeBackend struct {
	keys      KeyProvider
	connected bool
	balance   Balance
	sent      []string
}

func (f *fakeBackend) Connect(_ context.Context, kp KeyProvider) error {
	if kp == nil {
		return errors.New("fake: nil key provider")
	}
	// Pull one address up front the way a real engine seeds its watch list.
	if _, err := kp.ReceiveAddress(0); err != nil {
		return err
	}
	f.keys = kp
	f.connected = true
	return nil
}

func (f *fakeBackend) Disconnect() error {
	f.connected = false
	f.keys = nil
	return nil
}

func (f *fakeBackend) IsConnected() bool { return f.connected }

func (f *fakeBackend) Balance(context.Context) (Balance, error) {
	if !f.connected {
		return Balance{}, ErrNotConnected
	}
	return f.balance, nil
}

func (f *fakeBackend) Sync(context.Context) error {
	if !f.connected {
		return ErrNotConnected
	}
	return nil
}

func (f *fakeBackend) NewAddress(context.Context) (string, error) {
	if !f.connected {
		return "", ErrNotConnected
	}
	return f.keys.ReceiveAddress(uint32(len(f.sent)))
}

func (f *fakeBackend) Send(_ context.Context, destination string, amountSat uint64, _ float64) (string, error) {
	if !f.connected {
		return "", ErrNotConnected
	}
	if destination == "" {
		return "", ErrInvalidAddress
	}
	if amountSat > f.balance.Spendable() {
		return "", ErrInsufficientFunds
	}
	f.sent = append(f.sent, destination)
	return "txid-fake", nil
}

func (f *fakeBackend) EstimateFee(_ context.Context, _ string, _ uint64) (FeeEstimate, error) {
	return FeeEstimate{FeeSat: 200, SatPerVB: 1.5, TargetConf: 6}, nil
}

func (f *fakeBackend) Transactions(_ context.Context, limit int) ([]Payment, error) {
	if limit <= 0 {
		return nil, nil
	}
	return []Payment{{TxID: "txid-fake", SentSat: 100, Confirmed: true}}, nil
}

func (f *fakeBackend) CreateInvoice(_ context.Context, amountSat uint64, description string) (Invoice, error) {
	if !f.connected {
		return Invoice{}, ErrNotConnected
	}
	return Invoice{
		Bolt11:      "lnbc1fake",
		AmountSat:   amountSat,
		Description: description,
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeBackend) NodePubkey(context.Context) (string, error) {
	if !f.connected {
		return "", ErrNotConnected
	}
	return f.keys.IdentityPublicKey()
}

func (f *fakeBackend) SignMessage(_ context.Context, message string) (SignedMessage, error) {
	if !f.connected {
		return SignedMessage{}, ErrNotConnected
	}
	sig, err := f.keys.SignMessage([]byte(message))
	if err != nil {
		return SignedMessage{}, err
	}
	addr, err := f.keys.ReceiveAddress(0)
	if err != nil {
		return SignedMessage{}, err
	}
	return SignedMessage{Address: addr, Message: message, Signature: sig}, nil
}

func (f *fakeBackend) VerifyMessage(_ context.Context, message, signature, pubkey string) (bool, error) {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false, err
	}
	return keys.VerifyMessage(pubkey, []byte(message), sig)
}

func (f *fakeBackend) Name() string    { return "fake" }
func (f *fakeBackend) Version() string { return "0.0.0" }

var _ Backend = (*fakeBackend)(nil)

func testProvider(t *testing.T) *RingProvider {
	t.Helper()
	m, err := session.Open(t.TempDir(), session.Config{
		KDF: crypto.KDFParams{Memory: 64, Time: 1, Threads: 1},
	})
	if err != nil {
		t.Fatalf("session.Open() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	if err := m.Initialize("2468", "legal winner thank year wave sausage worth useful legal winner thank yellow"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return &RingProvider{Ring: keys.NewRing(m, nil)}
}

func TestBalanceTotals(t *testing.T) {
	b := Balance{ConfirmedSat: 1000, UnconfirmedSat: 500, LightningSat: 250}
	if got := b.Total(); got != 1750 {
		t.Errorf("Total() = %d, want 1750", got)
	}
	if got := b.Spendable(); got != 1250 {
		t.Errorf("Spendable() = %d, want 1250", got)
	}
	var zero Balance
	if zero.Total() != 0 || zero.Spendable() != 0 {
		t.Error("zero balance should total zero")
	}
}

func TestSignedMessageString(t *testing.T) {
	m := SignedMessage{Address: "bc1qtest", Message: "hello", Signature: "sig123"}
	s := m.String()
	for _, want := range []string{"hello", "bc1qtest", "sig123", "BEGIN BITCOIN SIGNED MESSAGE"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q:\n%s", want, s)
		}
	}
}

func TestBackendLifecycle(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{balance: Balance{ConfirmedSat: 5000}}

	if _, err := b.Balance(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Balance() before connect error = %v, want ErrNotConnected", err)
	}

	if err := b.Connect(ctx, testProvider(t)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !b.IsConnected() {
		t.Fatal("IsConnected() = false after Connect")
	}

	bal, err := b.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if bal.ConfirmedSat != 5000 {
		t.Errorf("confirmed = %d, want 5000", bal.ConfirmedSat)
	}

	if _, err := b.Send(ctx, "bc1qdest", 10000, 0); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("Send() over balance error = %v, want ErrInsufficientFunds", err)
	}
	if _, err := b.Send(ctx, "", 100, 0); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Send() empty destination error = %v, want ErrInvalidAddress", err)
	}
	txid, err := b.Send(ctx, "bc1qdest", 100, 1.0)
	if err != nil || txid == "" {
		t.Fatalf("Send() = %q, %v", txid, err)
	}

	if err := b.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if b.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
}

func TestProviderSuppliesDerivedMaterial(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	if err := b.Connect(ctx, testProvider(t)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	addr, err := b.NewAddress(ctx)
	if err != nil {
		t.Fatalf("NewAddress() error = %v", err)
	}
	if !strings.HasPrefix(addr, "bc1") {
		t.Errorf("address = %q, want bc1 prefix", addr)
	}

	pub, err := b.NodePubkey(ctx)
	if err != nil {
		t.Fatalf("NodePubkey() error = %v", err)
	}
	if len(pub) != 64 {
		t.Errorf("pubkey hex length = %d, want 64", len(pub))
	}

	signed, err := b.SignMessage(ctx, "proof of keys")
	if err != nil {
		t.Fatalf("SignMessage() error = %v", err)
	}
	ok, err := b.VerifyMessage(ctx, "proof of keys", signed.Signature, pub)
	if err != nil || !ok {
		t.Fatalf("VerifyMessage() = %v, %v; want true", ok, err)
	}
	ok, _ = b.VerifyMessage(ctx, "different message", signed.Signature, pub)
	if ok {
		t.Error("VerifyMessage() accepted signature over a different message")
	}
}

func TestProviderLightningEntropy(t *testing.T) {
	p := testProvider(t)
	ent, err := p.LightningEntropy()
	if err != nil {
		t.Fatalf("LightningEntropy() error = %v", err)
	}
	if len(ent) != 32 {
		t.Errorf("entropy length = %d, want 32", len(ent))
	}
}
