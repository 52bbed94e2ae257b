package giftwrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lndlease/publsp-go/internal/nostrid"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	alice, err := nostrid.Generate()
	require.NoError(t, err)
	bob, err := nostrid.Generate()
	require.NoError(t, err)

	wrap, err := Wrap(alice, bob.PubkeyHex(), Rumor{
		Kind:    KindPrivateDirectMessage,
		Content: "hello bob",
		Tags:    []Tag{{"offer_id", "abc-123"}},
	})
	require.NoError(t, err)
	assert.Equal(t, KindGiftWrap, wrap.Kind)
	assert.NotEqual(t, alice.PubkeyHex(), wrap.Pubkey, "gift wrap must be signed by a throwaway key")

	senderPubkey, rumor, err := Unwrap(bob, wrap)
	require.NoError(t, err)
	assert.Equal(t, alice.PubkeyHex(), senderPubkey)
	assert.Equal(t, "hello bob", rumor.Content)
	assert.Equal(t, "abc-123", rumor.TagValue("offer_id"))
}

func TestUnwrapWrongRecipientFails(t *testing.T) {
	alice, err := nostrid.Generate()
	require.NoError(t, err)
	bob, err := nostrid.Generate()
	require.NoError(t, err)
	eve, err := nostrid.Generate()
	require.NoError(t, err)

	wrap, err := Wrap(alice, bob.PubkeyHex(), Rumor{Kind: KindPrivateDirectMessage, Content: "secret"})
	require.NoError(t, err)

	_, _, err = Unwrap(eve, wrap)
	require.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	kp, err := nostrid.Generate()
	require.NoError(t, err)

	e := &Event{Kind: 1, Content: "hi", Tags: []Tag{}}
	require.NoError(t, Sign(e, kp))
	require.NoError(t, Verify(e))

	e.Content = "tampered"
	require.Error(t, Verify(e))
}
