package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nace/skrinja/internal/system"
)

// EscrowPath returns the location of a container's escrow record.
func (s *Store) EscrowPath(name string) string {
	return filepath.Join(s.Root, name, "escrow", name+".wrapped")
}

// EscrowContainerKey seals a container's private key under the master
// public key, so the container stays recoverable if its own key file is
// lost. The PEM is larger than RSA-OAEP can seal directly, so it is
// encrypted with a one-shot AES-256-GCM session key and only the
// session key is wrapped.
func (s *Store) EscrowContainerKey(name string) error {
	kp := s.DerivePaths(name)
	pemData, err := os.ReadFile(kp.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to read container key for escrow: %w", err)
	}

	blob, err := sealEnvelope(pemData, s.MasterPaths().PublicKey)
	if err != nil {
		return err
	}

	path := s.EscrowPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrPathConflict, err)
	}
	if err := os.WriteFile(path, blob, 0600); err != nil {
		return fmt.Errorf("failed to write escrow record: %w", err)
	}
	return nil
}

// RecoverContainerKey restores a container's key pair from its escrow
// record using the master private key. The public half is re-derived
// from the recovered private key.
func (s *Store) RecoverContainerKey(name string) (KeyPaths, error) {
	blob, err := os.ReadFile(s.EscrowPath(name))
	if err != nil {
		return KeyPaths{}, fmt.Errorf("no escrow record for %s: %w", name, err)
	}

	pemData, err := openEnvelope(blob, s.MasterPaths().PrivateKey)
	if err != nil {
		return KeyPaths{}, err
	}
	defer pemData.Zeroize()

	kp := s.DerivePaths(name)
	if err := s.ensureDirs(kp); err != nil {
		return KeyPaths{}, err
	}
	if err := os.WriteFile(kp.PrivateKey, pemData.Bytes(), 0600); err != nil {
		return KeyPaths{}, fmt.Errorf("failed to restore private key: %w", err)
	}
	if err := writePublicFromPrivate(pemData.Bytes(), kp.PublicKey); err != nil {
		return KeyPaths{}, err
	}
	return kp, nil
}

// Envelope layout: uint16 wrapped-session-key length, wrapped session
// key, GCM nonce, ciphertext.
func sealEnvelope(data []byte, pubPath string) ([]byte, error) {
	session := make([]byte, 32)
	if _, err := rand.Read(session); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}

	block, err := aes.NewCipher(session)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, data, nil)

	wrapped, err := Wrap(session, pubPath)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 2+len(wrapped)+len(nonce)+len(sealed))
	out = binary.BigEndian.AppendUint16(out, uint16(len(wrapped)))
	out = append(out, wrapped...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func openEnvelope(blob []byte, privPath string) (*system.SecureBytes, error) {
	if len(blob) < 2 {
		return nil, fmt.Errorf("malformed escrow record")
	}
	keyLen := int(binary.BigEndian.Uint16(blob))
	rest := blob[2:]
	if len(rest) < keyLen {
		return nil, fmt.Errorf("malformed escrow record")
	}

	session, err := Unwrap(rest[:keyLen], privPath)
	if err != nil {
		return nil, err
	}
	defer session.Zeroize()

	block, err := aes.NewCipher(session.Bytes())
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	rest = rest[keyLen:]
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("malformed escrow record")
	}
	plain, err := gcm.Open(nil, rest[:gcm.NonceSize()], rest[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal escrow record: %w", err)
	}
	return system.NewSecureBytes(plain), nil
}

func writePublicFromPrivate(privPEM []byte, pubPath string) error {
	block, _ := pem.Decode(privPEM)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return fmt.Errorf("escrow record did not contain a PEM private key")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse recovered private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal recovered public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		return fmt.Errorf("failed to restore public key: %w", err)
	}
	return nil
}
