package wallet

import (
	"encoding/hex"

	"github.com/hakoda-dev/scrollns/pkg/keys"
)

// RingProvider adapts a key ring to the KeyProvider interface. Locking
// the underlying session makes every method fail, which disconnects the
// backend from fresh key material without tearing it down.
type RingProvider struct {
	Ring *keys.Ring
}

var _ KeyProvider = (*RingProvider)(nil)

func (p *RingProvider) ReceiveAddress(index uint32) (string, error) {
	return p.Ring.ReceiveAddress(index)
}

func (p *RingProvider) IdentityPublicKey() (string, error) {
	return p.Ring.IdentityPublicKey()
}

func (p *RingProvider) SignMessage(message []byte) (string, error) {
	sig, err := p.Ring.SignMessage(message)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

func (p *RingProvider) LightningEntropy() ([]byte, error) {
	return p.Ring.LightningEntropy()
}
