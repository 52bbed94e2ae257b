package offer

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

// DeriveID computes the deterministic offer id from an LSP's hex-encoded
// node public key: the first 16 bytes of SHA-256(lsp_pubkey) read as a
// UUID (§3, §4.E point 2). Grounded on
// original_source/publsp/marketplace/lsp.py's AdHandler.generate_ad_id.
func DeriveID(lspPubkeyHex string) string {
	digest := sha256.Sum256([]byte(lspPubkeyHex))
	id, _ := uuid.FromBytes(digest[:16])
	return id.String()
}
