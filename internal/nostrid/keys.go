// Package nostrid manages the transport identity keypairs used to sign and
// address gift-wrapped direct messages (§4.B, §5). Grounded on
// original_source/publsp/nostr/keyhandler.py's KeyHandler: generate-or-reuse
// per client role, optional passphrase encryption at rest, JSON file
// storage keyed by role with a timestamped history.
package nostrid

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// KeyPair is a secp256k1 keypair addressed by its x-only (BIP-340) public
// key, the way Nostr identities are represented.
type KeyPair struct {
	priv *btcec.PrivateKey
}

// Generate creates a fresh random keypair.
func Generate() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate nostr keypair: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// FromHex loads a keypair from a 32-byte hex-encoded private key.
func FromHex(privHex string) (*KeyPair, error) {
	b, err := hexDecode(privHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return &KeyPair{priv: priv}, nil
}

// Private returns the raw 32-byte private key.
func (k *KeyPair) Private() *btcec.PrivateKey { return k.priv }

// PubkeyHex returns the 32-byte x-only public key as lowercase hex, the
// form used as a Nostr event's "pubkey" field.
func (k *KeyPair) PubkeyHex() string {
	return fmt.Sprintf("%x", schnorr.SerializePubKey(k.priv.PubKey()))
}

// PrivkeyHex returns the raw 32-byte private key as lowercase hex.
func (k *KeyPair) PrivkeyHex() string {
	return fmt.Sprintf("%x", k.priv.Serialize())
}

// Npub bech32-encodes the public key with the "npub" human-readable part
// (NIP-19).
func (k *KeyPair) Npub() (string, error) {
	xpub := schnorr.SerializePubKey(k.priv.PubKey())
	return encodeBech32("npub", xpub)
}

// Nsec bech32-encodes the private key with the "nsec" human-readable part
// (NIP-19).
func (k *KeyPair) Nsec() (string, error) {
	return encodeBech32("nsec", k.priv.Serialize())
}

func encodeBech32(hrp string, data []byte) (string, error) {
	conv, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, conv)
}

func hexDecode(s string) ([]byte, error) {
	if len(s) != 64 {
		return nil, fmt.Errorf("expected 32-byte hex key, got %d chars", len(s))
	}
	out := make([]byte, 32)
	for i := 0; i < 32; i++ {
		var b byte
		_, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// sharedSecret derives an ECDH shared secret between our private key and a
// peer's x-only public key, used by internal/giftwrap for NIP-44-shaped
// conversation keys.
func sharedSecret(priv *btcec.PrivateKey, peerXOnlyPub []byte) ([32]byte, error) {
	peerPub, err := schnorr.ParsePubKey(peerXOnlyPub)
	if err != nil {
		return [32]byte{}, fmt.Errorf("parse peer pubkey: %w", err)
	}
	var pubJ, shared btcec.JacobianPoint
	peerPub.AsJacobian(&pubJ)

	var privScalar btcec.ModNScalar
	privScalar.Set(&priv.Key)
	btcec.ScalarMultNonConst(&privScalar, &pubJ, &shared)
	shared.ToAffine()

	var x [32]byte
	shared.X.PutBytesUnchecked(x[:])
	return sha256.Sum256(x[:]), nil
}

// SharedSecret is the exported form of sharedSecret for use by
// internal/giftwrap.
func (k *KeyPair) SharedSecret(peerXOnlyPubHex string) ([32]byte, error) {
	peerBytes, err := hexDecode(peerXOnlyPubHex)
	if err != nil {
		return [32]byte{}, err
	}
	return sharedSecret(k.priv, peerBytes)
}
