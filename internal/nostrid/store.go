package nostrid

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// Role names the two client categories the key file tracks, matching
// keyhandler.py's data['keys'] = {'lsp': [...], 'customer': [...]}.
type Role string

const (
	RoleLSP      Role = "lsp"
	RoleCustomer Role = "customer"
)

// storedKey is one entry in the keys file's history for a role. Privkey is
// either a plain hex private key, or, if Encrypted is set, a
// hex-encoded passphraseEnvelope (see crypt.go).
type storedKey struct {
	Timestamp string `json:"timestamp"`
	Privkey   string `json:"privkey"`
	Pubkey    string `json:"pubkey"`
	Encrypted bool   `json:"encrypted"`
	Note      string `json:"note,omitempty"`
}

type keyFile struct {
	Keys map[Role][]storedKey `json:"keys"`
}

// Store persists and reloads keypairs per role, grounded on
// keyhandler.py's KeyHandler: reuse-or-generate, append-only history,
// optional passphrase encryption at rest.
type Store struct {
	Path string
}

func NewStore(path string) *Store { return &Store{Path: path} }

func (s *Store) load() (keyFile, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return keyFile{Keys: map[Role][]storedKey{RoleLSP: {}, RoleCustomer: {}}}, nil
	}
	if err != nil {
		return keyFile{}, fmt.Errorf("read keys file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return keyFile{}, fmt.Errorf("parse keys file: %w", err)
	}
	if kf.Keys == nil {
		kf.Keys = map[Role][]storedKey{}
	}
	return kf, nil
}

func (s *Store) save(kf keyFile) error {
	data, err := json.MarshalIndent(kf, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal keys file: %w", err)
	}
	if err := os.WriteFile(s.Path, data, 0600); err != nil {
		return fmt.Errorf("write keys file: %w", err)
	}
	return nil
}

// Latest returns the most recently written keypair for role, or (nil, nil)
// if none exists. If the stored entry is passphrase-encrypted, passphrase
// decrypts it.
func (s *Store) Latest(role Role, passphrase string) (*KeyPair, error) {
	kf, err := s.load()
	if err != nil {
		return nil, err
	}
	entries := kf.Keys[role]
	if len(entries) == 0 {
		return nil, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })
	latest := entries[len(entries)-1]

	privHex := latest.Privkey
	if latest.Encrypted {
		plain, err := decrypt(privHex, passphrase)
		if err != nil {
			return nil, fmt.Errorf("decrypt stored key: %w", err)
		}
		privHex = plain
	}
	return FromHex(privHex)
}

// Append writes a new keypair into role's history. If passphrase is
// non-empty the private key is encrypted at rest.
func (s *Store) Append(role Role, kp *KeyPair, passphrase, note string) error {
	kf, err := s.load()
	if err != nil {
		return err
	}

	privHex := kp.PrivkeyHex()
	encrypted := false
	if passphrase != "" {
		privHex, err = encrypt(privHex, passphrase)
		if err != nil {
			return fmt.Errorf("encrypt key: %w", err)
		}
		encrypted = true
	}

	entry := storedKey{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Privkey:   privHex,
		Pubkey:    kp.PubkeyHex(),
		Encrypted: encrypted,
		Note:      note,
	}
	kf.Keys[role] = append(kf.Keys[role], entry)
	return s.save(kf)
}

// LoadOrGenerate reuses the latest stored keypair for role, or generates
// and (if persist) appends a fresh one. Mirrors KeyHandler.__init__'s
// reuse_keys/write_keys behavior.
func LoadOrGenerate(store *Store, role Role, reuse, persist bool, passphrase, note string) (*KeyPair, error) {
	if reuse {
		kp, err := store.Latest(role, passphrase)
		if err != nil {
			return nil, err
		}
		if kp != nil {
			return kp, nil
		}
	}
	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	if persist {
		if err := store.Append(role, kp, passphrase, note); err != nil {
			return nil, err
		}
	}
	return kp, nil
}
