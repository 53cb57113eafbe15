// Package keys derives the external-facing key material of the wallet
// from the session master key. The master key seeds a BIP32 tree for
// on-chain receive keys (BIP84, P2WPKH), a fixed identity key for the
// social layer (m/44'/1237'/0'/0/0, Schnorr), and a separate entropy
// stream for the Lightning node. Consumers receive only derived
// material; the master key itself never leaves the session.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/hakoda-dev/scrollns/pkg/session"
)

// Derivation path constants.
const (
	// PurposeSegwit is the BIP84 purpose for native segwit accounts.
	PurposeSegwit = 84
	// PurposeLegacy is the BIP44 purpose used by the identity path.
	PurposeLegacy = 44
	// CoinBitcoin is the registered coin type for mainnet bitcoin.
	CoinBitcoin = 0
	// CoinIdentity is the registered coin type of the identity key tree.
	CoinIdentity = 1237
)

// Ring derives keys on demand from an unlocked session. It holds no key
// material of its own; every call re-reads the session, so locking the
// session immediately cuts off derivation.
type Ring struct {
	session *session.Manager
	params  *chaincfg.Params
}

// NewRing builds a derivation ring over the session. A nil params
// defaults to mainnet.
func NewRing(m *session.Manager, params *chaincfg.Params) *Ring {
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &Ring{session: m, params: params}
}

// root builds the BIP32 master node from the session master key.
func (r *Ring) root() (*hdkeychain.ExtendedKey, error) {
	master, err := r.session.MasterKey()
	if err != nil {
		return nil, err
	}
	key, err := hdkeychain.NewMaster(master, r.params)
	if err != nil {
		return nil, fmt.Errorf("keys: build master node: %w", err)
	}
	return key, nil
}

// derive walks a hardened-prefixed path below the master node. The first
// three levels (purpose, coin, account) are hardened, the rest are not.
func (r *Ring) derive(path []uint32) (*hdkeychain.ExtendedKey, error) {
	key, err := r.root()
	if err != nil {
		return nil, err
	}
	for i, step := range path {
		child := step
		if i < 3 {
			child += hdkeychain.HardenedKeyStart
		}
		if key, err = key.Derive(child); err != nil {
			return nil, fmt.Errorf("keys: derive step %d: %w", i, err)
		}
	}
	return key, nil
}

// ReceiveKey returns the private key at m/84'/0'/0'/0/index.
func (r *Ring) ReceiveKey(index uint32) (*btcec.PrivateKey, error) {
	node, err := r.derive([]uint32{PurposeSegwit, CoinBitcoin, 0, 0, index})
	if err != nil {
		return nil, err
	}
	priv, err := node.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("keys: extract receive key: %w", err)
	}
	return priv, nil
}

// ReceiveAddress returns the P2WPKH address string for the receive key at
// index.
func (r *Ring) ReceiveAddress(index uint32) (string, error) {
	priv, err := r.ReceiveKey(index)
	if err != nil {
		return "", err
	}
	pubHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubHash, r.params)
	if err != nil {
		return "", fmt.Errorf("keys: build address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// IdentityKey returns the fixed identity private key at
// m/44'/1237'/0'/0/0.
func (r *Ring) IdentityKey() (*btcec.PrivateKey, error) {
	node, err := r.derive([]uint32{PurposeLegacy, CoinIdentity, 0, 0, 0})
	if err != nil {
		return nil, err
	}
	priv, err := node.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("keys: extract identity key: %w", err)
	}
	return priv, nil
}

// IdentityPublicKey returns the 32-byte x-only identity public key as
// lowercase hex.
func (r *Ring) IdentityPublicKey() (string, error) {
	priv, err := r.IdentityKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())), nil
}

// SignMessage Schnorr-signs the SHA-256 digest of msg with the identity
// key.
func (r *Ring) SignMessage(msg []byte) ([]byte, error) {
	priv, err := r.IdentityKey()
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(msg)
	sig, err := schnorr.Sign(priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("keys: sign: %w", err)
	}
	return sig.Serialize(), nil
}

// VerifyMessage checks a Schnorr signature over msg against an x-only
// public key in hex.
func VerifyMessage(pubHex string, msg, sigBytes []byte) (bool, error) {
	pubRaw, err := hex.DecodeString(pubHex)
	if err != nil {
		return false, fmt.Errorf("keys: decode public key: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pubRaw)
	if err != nil {
		return false, fmt.Errorf("keys: parse public key: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("keys: parse signature: %w", err)
	}
	digest := sha256.Sum256(msg)
	return sig.Verify(digest[:], pub), nil
}

// LightningEntropy returns 32 bytes of node entropy derived from the
// session under its own label. The returned slice is a copy the caller
// owns and should wipe when done.
func (r *Ring) LightningEntropy() ([]byte, error) {
	k, err := r.session.DeriveKey(session.LabelLightning)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), k...), nil
}
