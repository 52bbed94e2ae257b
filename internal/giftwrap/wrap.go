package giftwrap

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/lndlease/publsp-go/internal/nostrid"
)

// randomPastOffset returns a pseudo-random duration used to jitter a gift
// wrap's created_at into the recent past, matching NIP-59's timestamp
// randomization so relays cannot correlate gift wraps by creation time.
// Not used for anything security-critical beyond obfuscation, so
// math/rand is adequate here.
func randomPastOffset() time.Duration {
	return time.Duration(rand.Int63n(int64(2 * 24 * time.Hour)))
}

// Rumor is the unsigned, unwrapped direct message: the thing a caller
// actually cares about sending or receiving. It is never signed or
// broadcast on its own, only sealed and gift-wrapped.
type Rumor struct {
	Kind      int
	Tags      []Tag
	Content   string
	CreatedAt int64
}

// Wrap seals rumor with sender's real key, then gift-wraps the seal under
// a random one-time key addressed to recipientPubkeyHex, returning the
// finished, signed, ready-to-publish gift wrap event (kind 1059).
func Wrap(sender *nostrid.KeyPair, recipientPubkeyHex string, rumor Rumor) (*Event, error) {
	now := time.Now().UTC()
	if rumor.CreatedAt == 0 {
		rumor.CreatedAt = now.Unix()
	}
	rumorTags := rumor.Tags
	if rumorTags == nil {
		rumorTags = []Tag{}
	}
	rumorTags = append(rumorTags, Tag{"p", recipientPubkeyHex})

	rumorEvent := &Event{
		Pubkey:    sender.PubkeyHex(),
		CreatedAt: rumor.CreatedAt,
		Kind:      rumor.Kind,
		Tags:      rumorTags,
		Content:   rumor.Content,
	}
	id, _, err := rumorEvent.computeID()
	if err != nil {
		return nil, fmt.Errorf("hash rumor: %w", err)
	}
	rumorEvent.ID = id

	rumorJSON, err := json.Marshal(rumorEvent)
	if err != nil {
		return nil, fmt.Errorf("marshal rumor: %w", err)
	}

	senderShared, err := sender.SharedSecret(recipientPubkeyHex)
	if err != nil {
		return nil, fmt.Errorf("derive seal shared secret: %w", err)
	}
	sealedContent, err := sealContent(senderShared, rumorJSON)
	if err != nil {
		return nil, fmt.Errorf("seal rumor: %w", err)
	}

	seal := &Event{
		CreatedAt: rumorEvent.CreatedAt,
		Kind:      KindSeal,
		Tags:      []Tag{},
		Content:   sealedContent,
	}
	if err := Sign(seal, sender); err != nil {
		return nil, fmt.Errorf("sign seal: %w", err)
	}

	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nil, fmt.Errorf("marshal seal: %w", err)
	}

	ephemeral, err := nostrid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	ephemeralShared, err := ephemeral.SharedSecret(recipientPubkeyHex)
	if err != nil {
		return nil, fmt.Errorf("derive wrap shared secret: %w", err)
	}
	wrappedContent, err := sealContent(ephemeralShared, sealJSON)
	if err != nil {
		return nil, fmt.Errorf("wrap seal: %w", err)
	}

	wrap := &Event{
		CreatedAt: now.Add(-randomPastOffset()).Unix(),
		Kind:      KindGiftWrap,
		Tags:      []Tag{{"p", recipientPubkeyHex}},
		Content:   wrappedContent,
	}
	if err := Sign(wrap, ephemeral); err != nil {
		return nil, fmt.Errorf("sign gift wrap: %w", err)
	}
	return wrap, nil
}

// Unwrap reverses Wrap: it opens the gift wrap using recipient's key,
// verifies and opens the seal, and returns the sealed rumor along with the
// sender's real pubkey (taken from the seal, never from the gift wrap's
// throwaway key).
func Unwrap(recipient *nostrid.KeyPair, wrap *Event) (senderPubkey string, rumor *Event, err error) {
	if wrap.Kind != KindGiftWrap {
		return "", nil, fmt.Errorf("event is not a gift wrap (kind %d)", wrap.Kind)
	}
	if err := Verify(wrap); err != nil {
		return "", nil, fmt.Errorf("verify gift wrap: %w", err)
	}

	ephemeralShared, err := recipient.SharedSecret(wrap.Pubkey)
	if err != nil {
		return "", nil, fmt.Errorf("derive wrap shared secret: %w", err)
	}
	sealJSON, err := openContent(ephemeralShared, wrap.Content)
	if err != nil {
		return "", nil, fmt.Errorf("open gift wrap: %w", err)
	}

	var seal Event
	if err := json.Unmarshal(sealJSON, &seal); err != nil {
		return "", nil, fmt.Errorf("parse seal: %w", err)
	}
	if seal.Kind != KindSeal {
		return "", nil, fmt.Errorf("wrapped event is not a seal (kind %d)", seal.Kind)
	}
	if err := Verify(&seal); err != nil {
		return "", nil, fmt.Errorf("verify seal: %w", err)
	}

	senderShared, err := recipient.SharedSecret(seal.Pubkey)
	if err != nil {
		return "", nil, fmt.Errorf("derive seal shared secret: %w", err)
	}
	rumorJSON, err := openContent(senderShared, seal.Content)
	if err != nil {
		return "", nil, fmt.Errorf("open seal: %w", err)
	}

	var r Event
	if err := json.Unmarshal(rumorJSON, &r); err != nil {
		return "", nil, fmt.Errorf("parse rumor: %w", err)
	}
	return seal.Pubkey, &r, nil
}
