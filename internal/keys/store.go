// Package keys manages the on-disk registry of per-container key pairs
// and the deployment master key pair.
package keys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// masterName is the reserved registry entry for the deployment master key.
const masterName = "master"

// ErrPathConflict indicates a required key directory could not be created.
var ErrPathConflict = errors.New("key path conflict")

// KeyPaths holds the on-disk locations of one key pair.
type KeyPaths struct {
	PrivateKey string
	PublicKey  string
}

// Confirmer answers yes/no questions before destructive key operations.
type Confirmer interface {
	Confirm(prompt string) bool
}

// Store is the on-disk key registry. Private halves live under
// <root>/<name>/priv with owner-only permissions, public halves under
// <root>/<name>/pub world-readable.
type Store struct {
	Root string
	Bits int
}

// NewStore creates a key store rooted at root, generating RSA keys of
// the given size.
func NewStore(root string, bits int) *Store {
	return &Store{Root: root, Bits: bits}
}

// DerivePaths returns the canonical key pair locations for a container
// name. Pure path derivation, no I/O.
func (s *Store) DerivePaths(name string) KeyPaths {
	return KeyPaths{
		PrivateKey: filepath.Join(s.Root, name, "priv", name+".pem"),
		PublicKey:  filepath.Join(s.Root, name, "pub", name+".pub.pem"),
	}
}

// MasterPaths returns the canonical master key pair locations.
func (s *Store) MasterPaths() KeyPaths {
	return KeyPaths{
		PrivateKey: filepath.Join(s.Root, masterName, "priv", masterName+".pem"),
		PublicKey:  filepath.Join(s.Root, masterName, "pub", masterName+".pub.pem"),
	}
}

// CreateKeyPair generates and stores a key pair for a container name.
func (s *Store) CreateKeyPair(name string) (KeyPaths, error) {
	kp := s.DerivePaths(name)
	if err := s.ensureDirs(kp); err != nil {
		return KeyPaths{}, err
	}
	if err := GenerateKeyPair(s.Bits, kp.PrivateKey, kp.PublicKey); err != nil {
		return KeyPaths{}, err
	}
	return kp, nil
}

// RemoveKeyPair deletes a container's key registry entry.
func (s *Store) RemoveKeyPair(name string) error {
	if name == masterName {
		return fmt.Errorf("refusing to remove the master key pair")
	}
	return os.RemoveAll(filepath.Join(s.Root, name))
}

// MasterKeyExists reports whether a master private key is present.
func (s *Store) MasterKeyExists() bool {
	info, err := os.Stat(s.MasterPaths().PrivateKey)
	return err == nil && info.Mode().IsRegular()
}

// CreateMasterKeyPair generates the deployment master key pair. When a
// master key already exists the confirmer is asked before replacing it;
// a decline leaves the existing key untouched and returns nil, so
// callers that merely need a master key to exist can proceed.
// Returns whether a new pair was written.
func (s *Store) CreateMasterKeyPair(confirm Confirmer) (bool, error) {
	if s.MasterKeyExists() {
		if confirm == nil || !confirm.Confirm("A master key already exists. Replace it?") {
			return false, nil
		}
	}

	kp := s.MasterPaths()
	if err := s.ensureDirs(kp); err != nil {
		return false, err
	}
	if err := GenerateKeyPair(s.Bits, kp.PrivateKey, kp.PublicKey); err != nil {
		return false, err
	}
	return true, nil
}

// EnsureMasterKeyPair creates the master key pair only if absent.
func (s *Store) EnsureMasterKeyPair() error {
	if s.MasterKeyExists() {
		return nil
	}
	_, err := s.CreateMasterKeyPair(nil)
	return err
}

// GenerateMasterCandidate generates a new master key pair at temporary
// uuid-suffixed paths inside the master directories. The candidate is
// not the canonical master key until PromoteMasterCandidate renames it
// into place.
func (s *Store) GenerateMasterCandidate() (KeyPaths, error) {
	canonical := s.MasterPaths()
	if err := s.ensureDirs(canonical); err != nil {
		return KeyPaths{}, err
	}

	id := uuid.NewString()
	tmp := KeyPaths{
		PrivateKey: canonical.PrivateKey + ".candidate-" + id,
		PublicKey:  canonical.PublicKey + ".candidate-" + id,
	}
	if err := GenerateKeyPair(s.Bits, tmp.PrivateKey, tmp.PublicKey); err != nil {
		return KeyPaths{}, err
	}
	return tmp, nil
}

// PromoteMasterCandidate atomically replaces the canonical master key
// pair with the candidate. Rename, not copy-then-delete, so there is no
// window with two master files of ambiguous precedence.
func (s *Store) PromoteMasterCandidate(tmp KeyPaths) error {
	canonical := s.MasterPaths()
	if err := os.Rename(tmp.PrivateKey, canonical.PrivateKey); err != nil {
		return fmt.Errorf("failed to promote master private key: %w", err)
	}
	if err := os.Rename(tmp.PublicKey, canonical.PublicKey); err != nil {
		return fmt.Errorf("failed to promote master public key: %w", err)
	}
	return nil
}

// DiscardMasterCandidate removes a candidate pair that will not be promoted.
func (s *Store) DiscardMasterCandidate(tmp KeyPaths) {
	os.Remove(tmp.PrivateKey)
	os.Remove(tmp.PublicKey)
}

func (s *Store) ensureDirs(kp KeyPaths) error {
	if err := os.MkdirAll(filepath.Dir(kp.PrivateKey), 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrPathConflict, err)
	}
	if err := os.MkdirAll(filepath.Dir(kp.PublicKey), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrPathConflict, err)
	}
	return nil
}
