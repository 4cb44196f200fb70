package keys_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nace/skrinja/internal/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Small keys keep the tests fast; production uses 4096.
const testBits = 1024

type staticConfirmer bool

func (c staticConfirmer) Confirm(string) bool { return bool(c) }

func TestDerivePaths(t *testing.T) {
	s := keys.NewStore("/etc/skrinja/keys", testBits)

	kp := s.DerivePaths("vaultA")
	assert.Equal(t, "/etc/skrinja/keys/vaultA/priv/vaultA.pem", kp.PrivateKey)
	assert.Equal(t, "/etc/skrinja/keys/vaultA/pub/vaultA.pub.pem", kp.PublicKey)

	// Pure derivation, stable across calls
	assert.Equal(t, kp, s.DerivePaths("vaultA"))
}

func TestMasterPaths(t *testing.T) {
	s := keys.NewStore("/etc/skrinja/keys", testBits)

	kp := s.MasterPaths()
	assert.Equal(t, "/etc/skrinja/keys/master/priv/master.pem", kp.PrivateKey)
	assert.Equal(t, "/etc/skrinja/keys/master/pub/master.pub.pem", kp.PublicKey)
}

func TestCreateKeyPair(t *testing.T) {
	s := keys.NewStore(t.TempDir(), testBits)

	kp, err := s.CreateKeyPair("vaultA")
	require.NoError(t, err)

	privInfo, err := os.Stat(kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), privInfo.Mode().Perm())

	privDir, err := os.Stat(filepath.Dir(kp.PrivateKey))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), privDir.Mode().Perm())

	pubInfo, err := os.Stat(kp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), pubInfo.Mode().Perm())
}

func TestMasterKeyLifecycle(t *testing.T) {
	s := keys.NewStore(t.TempDir(), testBits)
	assert.False(t, s.MasterKeyExists())

	created, err := s.CreateMasterKeyPair(staticConfirmer(true))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, s.MasterKeyExists())
}

func TestCreateMasterKeyPairDeclineKeepsExisting(t *testing.T) {
	s := keys.NewStore(t.TempDir(), testBits)

	_, err := s.CreateMasterKeyPair(staticConfirmer(true))
	require.NoError(t, err)
	original, err := os.ReadFile(s.MasterPaths().PrivateKey)
	require.NoError(t, err)

	// Decline is a no-op success, not an error
	created, err := s.CreateMasterKeyPair(staticConfirmer(false))
	require.NoError(t, err)
	assert.False(t, created)

	current, err := os.ReadFile(s.MasterPaths().PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, original, current)
}

func TestCreateMasterKeyPairReplaceOnConfirm(t *testing.T) {
	s := keys.NewStore(t.TempDir(), testBits)

	_, err := s.CreateMasterKeyPair(staticConfirmer(true))
	require.NoError(t, err)
	original, err := os.ReadFile(s.MasterPaths().PrivateKey)
	require.NoError(t, err)

	created, err := s.CreateMasterKeyPair(staticConfirmer(true))
	require.NoError(t, err)
	assert.True(t, created)

	current, err := os.ReadFile(s.MasterPaths().PrivateKey)
	require.NoError(t, err)
	assert.NotEqual(t, original, current)
}

func TestEnsureMasterKeyPairIsIdempotent(t *testing.T) {
	s := keys.NewStore(t.TempDir(), testBits)

	require.NoError(t, s.EnsureMasterKeyPair())
	first, err := os.ReadFile(s.MasterPaths().PrivateKey)
	require.NoError(t, err)

	require.NoError(t, s.EnsureMasterKeyPair())
	second, err := os.ReadFile(s.MasterPaths().PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMasterCandidatePromotion(t *testing.T) {
	s := keys.NewStore(t.TempDir(), testBits)
	require.NoError(t, s.EnsureMasterKeyPair())

	tmp, err := s.GenerateMasterCandidate()
	require.NoError(t, err)
	assert.NotEqual(t, s.MasterPaths().PrivateKey, tmp.PrivateKey)
	assert.FileExists(t, tmp.PrivateKey)

	candidatePEM, err := os.ReadFile(tmp.PrivateKey)
	require.NoError(t, err)

	require.NoError(t, s.PromoteMasterCandidate(tmp))

	// Candidate became the canonical key, nothing left behind
	canonical, err := os.ReadFile(s.MasterPaths().PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, candidatePEM, canonical)
	assert.NoFileExists(t, tmp.PrivateKey)
}

func TestDiscardMasterCandidate(t *testing.T) {
	s := keys.NewStore(t.TempDir(), testBits)

	tmp, err := s.GenerateMasterCandidate()
	require.NoError(t, err)

	s.DiscardMasterCandidate(tmp)
	assert.NoFileExists(t, tmp.PrivateKey)
	assert.NoFileExists(t, tmp.PublicKey)
}

func TestRemoveKeyPair(t *testing.T) {
	s := keys.NewStore(t.TempDir(), testBits)

	kp, err := s.CreateKeyPair("vaultA")
	require.NoError(t, err)

	require.NoError(t, s.RemoveKeyPair("vaultA"))
	assert.NoFileExists(t, kp.PrivateKey)

	assert.Error(t, s.RemoveKeyPair("master"))
}
