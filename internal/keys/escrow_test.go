package keys_test

import (
	"os"
	"testing"

	"github.com/nace/skrinja/internal/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscrowRecoverRoundtrip(t *testing.T) {
	s := keys.NewStore(t.TempDir(), testBits)
	require.NoError(t, s.EnsureMasterKeyPair())

	kp, err := s.CreateKeyPair("vaultA")
	require.NoError(t, err)
	original, err := os.ReadFile(kp.PrivateKey)
	require.NoError(t, err)

	require.NoError(t, s.EscrowContainerKey("vaultA"))
	assert.FileExists(t, s.EscrowPath("vaultA"))

	// Simulate a lost key pair
	require.NoError(t, os.Remove(kp.PrivateKey))
	require.NoError(t, os.Remove(kp.PublicKey))

	recovered, err := s.RecoverContainerKey("vaultA")
	require.NoError(t, err)

	current, err := os.ReadFile(recovered.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, original, current)
	assert.FileExists(t, recovered.PublicKey)

	info, err := os.Stat(recovered.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestEscrowRequiresMasterKey(t *testing.T) {
	s := keys.NewStore(t.TempDir(), testBits)

	_, err := s.CreateKeyPair("vaultA")
	require.NoError(t, err)

	assert.Error(t, s.EscrowContainerKey("vaultA"))
}

func TestRecoverWithoutEscrowRecord(t *testing.T) {
	s := keys.NewStore(t.TempDir(), testBits)
	require.NoError(t, s.EnsureMasterKeyPair())

	_, err := s.RecoverContainerKey("vaultA")
	assert.Error(t, err)
}

func TestRecoverRejectsTamperedRecord(t *testing.T) {
	s := keys.NewStore(t.TempDir(), testBits)
	require.NoError(t, s.EnsureMasterKeyPair())

	_, err := s.CreateKeyPair("vaultA")
	require.NoError(t, err)
	require.NoError(t, s.EscrowContainerKey("vaultA"))

	path := s.EscrowPath("vaultA")
	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, blob, 0600))

	_, err = s.RecoverContainerKey("vaultA")
	assert.Error(t, err)
}
