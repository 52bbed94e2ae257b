package invoice

import (
	"crypto/rand"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/stretchr/testify/require"
)

func signer(priv *btcec.PrivateKey) zpay32.MessageSigner {
	return zpay32.MessageSigner{
		SignCompact: func(hash []byte) ([]byte, error) {
			sig, err := ecdsa.SignCompact(priv, hash, true)
			if err != nil {
				return nil, err
			}
			return sig, nil
		},
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var preimage [32]byte
	_, err = rand.Read(preimage[:])
	require.NoError(t, err)
	hash := sha256.Sum256(preimage[:])

	amount := lnwire.MilliSatoshi(50_000_000)
	inv, err := zpay32.NewInvoice(
		&chaincfg.TestNet3Params,
		hash,
		time.Now(),
		zpay32.Amount(amount),
		zpay32.Description("lease invoice"),
		zpay32.Destination(priv.PubKey()),
		zpay32.Expiry(2*time.Hour),
	)
	require.NoError(t, err)

	encoded, err := inv.Encode(signer(priv))
	require.NoError(t, err)

	decoded, err := Decode(&chaincfg.TestNet3Params, encoded)
	require.NoError(t, err)

	require.Equal(t, int64(50_000), decoded.AmountSat)
	require.Equal(t, int64(7200), decoded.ExpirySecs)
	require.Len(t, decoded.PaymentHash, 64)
	require.Len(t, decoded.DestPubkey, 66)
}

func TestDecodeInvalidInvoice(t *testing.T) {
	_, err := Decode(&chaincfg.TestNet3Params, "not a bolt11 invoice")
	require.Error(t, err)
}
