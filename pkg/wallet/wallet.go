// Package wallet defines the payment capability surface. A Backend is
// an external Bitcoin/Lightning engine; this module only hands it the
// narrow key material it needs and consumes its typed results.
// Implementations live outside this module.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors shared by backend implementations.
var (
	ErrNotConnected      = errors.New("wallet: not connected")
	ErrInvalidAddress    = errors.New("wallet: invalid address")
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	ErrInvalidFeeRate    = errors.New("wallet: invalid fee rate")
)

// Balance is the satoshi breakdown of on-chain and Lightning funds.
type Balance struct {
	ConfirmedSat   uint64 `json:"confirmed_sat"`
	UnconfirmedSat uint64 `json:"unconfirmed_sat"`
	LightningSat   uint64 `json:"lightning_sat"`
}

// Total is the sum of all balance components.
func (b Balance) Total() uint64 {
	return b.ConfirmedSat + b.UnconfirmedSat + b.LightningSat
}

// Spendable is the balance that can be spent right now.
func (b Balance) Spendable() uint64 {
	return b.ConfirmedSat + b.LightningSat
}

// Payment describes one settled or pending transaction.
type Payment struct {
	TxID        string     `json:"txid"`
	ReceivedSat uint64     `json:"received_sat"`
	SentSat     uint64     `json:"sent_sat"`
	FeeSat      uint64     `json:"fee_sat"`
	Confirmed   bool       `json:"confirmed"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// Invoice is a Lightning payment request created by the backend.
type Invoice struct {
	Bolt11      string    `json:"bolt11"`
	AmountSat   uint64    `json:"amount_sat"`
	Description string    `json:"description,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// FeeEstimate is the predicted cost of a send.
type FeeEstimate struct {
	FeeSat     uint64  `json:"fee_sat"`
	SatPerVB   float64 `json:"sat_per_vb"`
	TargetConf uint32  `json:"target_conf"`
}

// SignedMessage is a message signature bound to an address.
type SignedMessage struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// String renders the conventional armored form.
func (m SignedMessage) String() string {
	return fmt.Sprintf("-----BEGIN BITCOIN SIGNED MESSAGE-----\n%s\n-----BEGIN SIGNATURE-----\n%s\n%s\n-----END BITCOIN SIGNED MESSAGE-----",
		m.Message, m.Address, m.Signature)
}

// KeyProvider supplies a backend with derived key material. It never
// exposes the master key; everything it returns is purpose-bound.
type KeyProvider interface {
	// ReceiveAddress returns the address for the given derivation index.
	ReceiveAddress(index uint32) (string, error)
	// IdentityPublicKey returns the hex-encoded x-only identity pubkey.
	IdentityPublicKey() (string, error)
	// SignMessage signs with the identity key and returns the hex signature.
	SignMessage(message []byte) (string, error)
	// LightningEntropy returns the 32-byte seed for the Lightning node.
	LightningEntropy() ([]byte, error)
}

// Backend is the unified payment engine interface. Blocking operations
// take a context; Send destinations may be on-chain addresses or
// Lightning invoices, the backend decides.
type Backend interface {
	// Lifecycle.
	Connect(ctx context.Context, keys KeyProvider) error
	Disconnect() error
	IsConnected() bool

	// Core operations.
	Balance(ctx context.Context) (Balance, error)
	Sync(ctx context.Context) error
	NewAddress(ctx context.Context) (string, error)
	Send(ctx context.Context, destination string, amountSat uint64, satPerVB float64) (string, error)
	EstimateFee(ctx context.Context, destination string, amountSat uint64) (FeeEstimate, error)
	Transactions(ctx context.Context, limit int) ([]Payment, error)

	// Lightning.
	CreateInvoice(ctx context.Context, amountSat uint64, description string) (Invoice, error)
	NodePubkey(ctx context.Context) (string, error)

	// Message signing.
	SignMessage(ctx context.Context, message string) (SignedMessage, error)
	VerifyMessage(ctx context.Context, message, signature, pubkey string) (bool, error)

	// Identification.
	Name() string
	Version() string
}
