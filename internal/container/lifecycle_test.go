package container_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/nace/skrinja/internal/container"
	"github.com/nace/skrinja/internal/keys"
	"github.com/nace/skrinja/internal/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider simulates the block-encryption provider: a keyslot table
// per container path and a set of active mappings.
type fakeProvider struct {
	mappings map[string]bool
	keyslots map[string][]string // container path -> enrolled key file paths

	failAddKey    error
	failRemoveKey error

	opens  int
	closes int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		mappings: make(map[string]bool),
		keyslots: make(map[string][]string),
	}
}

func (f *fakeProvider) Format(path, keyFile string) error {
	f.keyslots[path] = []string{keyFile}
	return nil
}

func (f *fakeProvider) Open(path, mapperName, keyFile string) error {
	if f.mappings[mapperName] {
		return fmt.Errorf("mapping %s already exists", mapperName)
	}
	if !f.hasSlot(path, keyFile) {
		return fmt.Errorf("no keyslot matches %s", keyFile)
	}
	f.mappings[mapperName] = true
	f.opens++
	return nil
}

func (f *fakeProvider) Close(mapperName string) error {
	if !f.mappings[mapperName] {
		return fmt.Errorf("mapping %s is not active", mapperName)
	}
	delete(f.mappings, mapperName)
	f.closes++
	return nil
}

func (f *fakeProvider) AddKey(path, authKeyFile, newKeyFile string) error {
	if f.failAddKey != nil {
		return f.failAddKey
	}
	if !f.hasSlot(path, authKeyFile) {
		return fmt.Errorf("no keyslot matches authenticating key %s", authKeyFile)
	}
	f.keyslots[path] = append(f.keyslots[path], newKeyFile)
	return nil
}

func (f *fakeProvider) AddPassphrase(path, authKeyFile string, passphrase *system.SecureBytes) error {
	if !f.hasSlot(path, authKeyFile) {
		return fmt.Errorf("no keyslot matches authenticating key %s", authKeyFile)
	}
	f.keyslots[path] = append(f.keyslots[path], "passphrase:"+string(passphrase.Bytes()))
	return nil
}

func (f *fakeProvider) RemoveKey(path, keyFile string) error {
	if f.failRemoveKey != nil {
		return f.failRemoveKey
	}
	slots := f.keyslots[path]
	for i, s := range slots {
		if s == keyFile {
			f.keyslots[path] = append(slots[:i:i], slots[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no keyslot matches %s", keyFile)
}

func (f *fakeProvider) Status(mapperName string) (bool, error) {
	return f.mappings[mapperName], nil
}

func (f *fakeProvider) ListActiveMappings() ([]string, error) {
	var names []string
	for name := range f.mappings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeProvider) DumpKeyslots(path string) (string, error) {
	out := "Keyslots:\n"
	for i := range f.keyslots[path] {
		out += fmt.Sprintf("  %d: luks2\n", i)
	}
	return out, nil
}

func (f *fakeProvider) KeyslotCount(path string) (int, error) {
	return len(f.keyslots[path]), nil
}

func (f *fakeProvider) hasSlot(path, keyFile string) bool {
	for _, s := range f.keyslots[path] {
		if s == keyFile {
			return true
		}
	}
	return false
}

// fakeMounter simulates the mount manager over an in-memory mount table.
type fakeMounter struct {
	root        string
	mounts      map[string]string // device -> mount point
	failMount   error
	failUnmount map[string]error // mount point -> error
	filesystems []string
}

func newFakeMounter(root string) *fakeMounter {
	return &fakeMounter{
		root:        root,
		mounts:      make(map[string]string),
		failUnmount: make(map[string]error),
	}
}

func (f *fakeMounter) Mount(mapperName string) (string, error) {
	if f.failMount != nil {
		return "", f.failMount
	}
	name, _ := container.NameFromMapper(mapperName)
	mountPoint := filepath.Join(f.root, name)
	f.mounts["/dev/mapper/"+mapperName] = mountPoint
	return mountPoint, nil
}

func (f *fakeMounter) Unmount(mountPoint string, confirm container.Confirmer) error {
	if err, ok := f.failUnmount[mountPoint]; ok {
		return err
	}
	for device, mp := range f.mounts {
		if mp == mountPoint {
			delete(f.mounts, device)
			return nil
		}
	}
	return fmt.Errorf("not mounted: %s", mountPoint)
}

func (f *fakeMounter) MakeFilesystem(device, fsType string) error {
	f.filesystems = append(f.filesystems, device)
	return nil
}

func (f *fakeMounter) Mounts() (map[string]string, error) {
	out := make(map[string]string, len(f.mounts))
	for k, v := range f.mounts {
		out[k] = v
	}
	return out, nil
}

func newTestLifecycle(t *testing.T) (*container.Lifecycle, *fakeProvider, *fakeMounter) {
	t.Helper()

	root := t.TempDir()
	containersRoot := filepath.Join(root, "containers")
	require.NoError(t, os.MkdirAll(containersRoot, 0755))

	provider := newFakeProvider()
	mounter := newFakeMounter(filepath.Join(root, "mnt"))

	lc := &container.Lifecycle{
		Provider:        provider,
		Mounter:         mounter,
		Keys:            keys.NewStore(filepath.Join(root, "keys"), 1024),
		ContainersRoot:  containersRoot,
		ContainerSuffix: ".skr",
		Filesystem:      "ext4",
		FreeSpace: func(string) (uint64, error) {
			return 1 << 30, nil
		},
		Allocate: func(path string, size uint64) error {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
			if err != nil {
				return err
			}
			defer f.Close()
			return f.Truncate(int64(size))
		},
	}
	return lc, provider, mounter
}

func TestCreateProvisionsEndToEnd(t *testing.T) {
	lc, provider, mounter := newTestLifecycle(t)

	handle, err := lc.Create("vaultA", 1024)
	require.NoError(t, err)

	assert.Equal(t, "vaultA", handle.Name)
	assert.Equal(t, "vaultA_mapper", handle.MapperName)
	assert.True(t, provider.mappings["vaultA_mapper"])

	// Container key plus enrolled master key
	count, err := provider.KeyslotCount(handle.Path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// File allocated at exactly the requested size
	info, err := os.Stat(handle.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), info.Size())

	// Mounted at the canonical mount point
	assert.NotEmpty(t, handle.MountPoint)
	assert.Contains(t, mounter.mounts, "/dev/mapper/vaultA_mapper")

	// Master key pair was created on demand
	assert.True(t, lc.Keys.MasterKeyExists())
}

func TestCreateThenCloseLeavesNoMappings(t *testing.T) {
	lc, provider, _ := newTestLifecycle(t)

	handle, err := lc.Create("vaultA", 2048)
	require.NoError(t, err)

	before, err := os.Stat(handle.Path)
	require.NoError(t, err)

	require.NoError(t, lc.Close("vaultA"))

	mappings, err := provider.ListActiveMappings()
	require.NoError(t, err)
	assert.Empty(t, mappings)

	after, err := os.Stat(handle.Path)
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size())
}

func TestCreateFailsWithoutSpace(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)
	lc.FreeSpace = func(string) (uint64, error) { return 100, nil }

	_, err := lc.Create("vaultA", 1024)
	require.Error(t, err)
	assert.ErrorIs(t, err, container.ErrInsufficientSpace)

	// Nothing was allocated
	assert.NoFileExists(t, lc.Handle("vaultA").Path)
}

func TestCreateRollbackPolicy(t *testing.T) {
	t.Run("rollback enabled removes artifacts", func(t *testing.T) {
		lc, provider, mounter := newTestLifecycle(t)
		lc.RollbackOnFailure = true
		mounter.failMount = errors.New("mount refused")

		_, err := lc.Create("vaultA", 1024)
		require.Error(t, err)

		handle := lc.Handle("vaultA")
		assert.NoFileExists(t, handle.Path)
		assert.NoFileExists(t, lc.Keys.DerivePaths("vaultA").PrivateKey)
		assert.False(t, provider.mappings["vaultA_mapper"])
	})

	t.Run("rollback disabled leaves artifacts for recovery", func(t *testing.T) {
		lc, _, mounter := newTestLifecycle(t)
		mounter.failMount = errors.New("mount refused")

		_, err := lc.Create("vaultA", 1024)
		require.Error(t, err)

		handle := lc.Handle("vaultA")
		assert.FileExists(t, handle.Path)
		assert.FileExists(t, lc.Keys.DerivePaths("vaultA").PrivateKey)
	})
}

func TestOpenClosesStaleMapping(t *testing.T) {
	lc, provider, _ := newTestLifecycle(t)

	_, err := lc.Create("vaultA", 1024)
	require.NoError(t, err)
	require.NoError(t, lc.Close("vaultA"))

	// Simulate a stale mapping left by a crashed session
	provider.mappings["vaultA_mapper"] = true

	handle, err := lc.Open("vaultA", "")
	require.NoError(t, err)

	mappings, err := provider.ListActiveMappings()
	require.NoError(t, err)
	assert.Equal(t, []string{handle.MapperName}, mappings)
}

func TestOpenIsIdempotentUnderRepeat(t *testing.T) {
	lc, provider, _ := newTestLifecycle(t)

	_, err := lc.Create("vaultA", 1024)
	require.NoError(t, err)

	// Second open must tear down the live mapping and recreate it
	_, err = lc.Open("vaultA", "")
	require.NoError(t, err)

	mappings, err := provider.ListActiveMappings()
	require.NoError(t, err)
	assert.Len(t, mappings, 1)
}

func TestOpenMissingKeyPromptsOnce(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)

	prompts := 0
	lc.PromptKeyPath = func(name string) string {
		prompts++
		return "/nonexistent/alternate.pem"
	}

	_, err := lc.Open("ghost", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, container.ErrKeyNotFound)
	assert.Equal(t, 1, prompts)
}

func TestOpenReportsProviderFailure(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)

	// Key pair exists but the container was never formatted
	kp, err := lc.Keys.CreateKeyPair("vaultA")
	require.NoError(t, err)

	_, err = lc.Open("vaultA", kp.PrivateKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, container.ErrOpenFailed)
	assert.Contains(t, err.Error(), kp.PrivateKey)
}

func TestRemoveLastKeyslotRejected(t *testing.T) {
	lc, provider, _ := newTestLifecycle(t)

	_, err := lc.Create("vaultA", 1024)
	require.NoError(t, err)
	handle := lc.Handle("vaultA")

	// Drop to a single keyslot, then try to remove it
	master := lc.Keys.MasterPaths()
	require.NoError(t, lc.RemoveKey("vaultA", master.PrivateKey))

	containerKey := lc.Keys.DerivePaths("vaultA").PrivateKey
	err = lc.RemoveKey("vaultA", containerKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last keyslot")

	// Keyslot table unchanged
	count, err := provider.KeyslotCount(handle.Path)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRotateMaster(t *testing.T) {
	lc, provider, _ := newTestLifecycle(t)

	_, err := lc.Create("vaultA", 1024)
	require.NoError(t, err)
	require.NoError(t, lc.Close("vaultA"))

	handle := lc.Handle("vaultA")
	oldMaster := lc.Keys.MasterPaths()
	oldMasterPEM, err := os.ReadFile(oldMaster.PrivateKey)
	require.NoError(t, err)

	require.NoError(t, lc.RotateMaster("vaultA"))

	// Old master slot gone, container key plus new master slot remain
	count, err := provider.KeyslotCount(handle.Path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.False(t, provider.hasSlot(handle.Path, oldMaster.PrivateKey))
	assert.True(t, provider.hasSlot(handle.Path, lc.Keys.DerivePaths("vaultA").PrivateKey))

	// Canonical master key replaced
	newMasterPEM, err := os.ReadFile(lc.Keys.MasterPaths().PrivateKey)
	require.NoError(t, err)
	assert.NotEqual(t, oldMasterPEM, newMasterPEM)

	// No mapping left open
	mappings, err := provider.ListActiveMappings()
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func TestRotateMasterInconsistencyKeepsCanonicalKey(t *testing.T) {
	lc, provider, _ := newTestLifecycle(t)

	_, err := lc.Create("vaultA", 1024)
	require.NoError(t, err)
	require.NoError(t, lc.Close("vaultA"))

	master := lc.Keys.MasterPaths()
	masterPEM, err := os.ReadFile(master.PrivateKey)
	require.NoError(t, err)

	provider.failRemoveKey = errors.New("slot removal refused")

	err = lc.RotateMaster("vaultA")
	require.Error(t, err)
	assert.ErrorIs(t, err, container.ErrRotationInconsistent)

	// Canonical master key must not have been promoted over
	current, err := os.ReadFile(master.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, masterPEM, current)

	// Old master slot still enrolled, container remains openable by it
	handle := lc.Handle("vaultA")
	assert.True(t, provider.hasSlot(handle.Path, master.PrivateKey))
}

func TestRotateMasterRetryAfterInconsistency(t *testing.T) {
	lc, provider, _ := newTestLifecycle(t)

	_, err := lc.Create("vaultA", 1024)
	require.NoError(t, err)
	require.NoError(t, lc.Close("vaultA"))

	provider.failRemoveKey = errors.New("slot removal refused")
	require.Error(t, lc.RotateMaster("vaultA"))

	// Retry once the provider recovers
	provider.failRemoveKey = nil
	require.NoError(t, lc.RotateMaster("vaultA"))

	// At no point did the container drop to zero keyslots
	handle := lc.Handle("vaultA")
	count, err := provider.KeyslotCount(handle.Path)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 2)
}

func TestCloseAllMappings(t *testing.T) {
	lc, provider, mounter := newTestLifecycle(t)

	for _, name := range []string{"vaultA", "vaultB"} {
		_, err := lc.Create(name, 1024)
		require.NoError(t, err)
	}
	// A foreign crypt mapping must not be touched
	provider.mappings["sda3_crypt"] = true

	report, err := lc.CloseAllMappings()
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.ElementsMatch(t, []string{"vaultA_mapper", "vaultB_mapper"}, report.Succeeded)
	assert.True(t, provider.mappings["sda3_crypt"])

	mappings, err := provider.ListActiveMappings()
	require.NoError(t, err)
	assert.Equal(t, []string{"sda3_crypt"}, mappings)
	assert.Empty(t, mounter.mounts)
}

func TestCloseAllContinuesPastFailures(t *testing.T) {
	lc, provider, mounter := newTestLifecycle(t)

	for _, name := range []string{"vaultA", "vaultB", "vaultC"} {
		_, err := lc.Create(name, 1024)
		require.NoError(t, err)
	}

	busy := mounter.mounts["/dev/mapper/vaultB_mapper"]
	mounter.failUnmount[busy] = container.ErrUnmountBusy

	report, err := lc.CloseAllMappings()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"vaultA_mapper", "vaultC_mapper"}, report.Succeeded)
	require.Contains(t, report.Failed, "vaultB_mapper")
	assert.ErrorIs(t, report.Err(), container.ErrUnmountBusy)

	// The busy container's mapping stays open; the others are gone
	assert.True(t, provider.mappings["vaultB_mapper"])
	assert.False(t, provider.mappings["vaultA_mapper"])
	assert.False(t, provider.mappings["vaultC_mapper"])
}

func TestUnmountAllVolumes(t *testing.T) {
	lc, provider, mounter := newTestLifecycle(t)

	for _, name := range []string{"vaultA", "vaultB"} {
		_, err := lc.Create(name, 1024)
		require.NoError(t, err)
	}

	report, err := lc.UnmountAllVolumes()
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Len(t, report.Succeeded, 2)

	// Mappings remain open, only filesystems were detached
	assert.Empty(t, mounter.mounts)
	assert.True(t, provider.mappings["vaultA_mapper"])
	assert.True(t, provider.mappings["vaultB_mapper"])
}

func TestAddPassphraseAuthenticatesWithContainerKey(t *testing.T) {
	lc, provider, _ := newTestLifecycle(t)

	handle, err := lc.Create("vaultA", 1024)
	require.NoError(t, err)

	pass := system.NewSecureBytes([]byte("correct horse"))
	require.NoError(t, lc.AddPassphrase("vaultA", "", pass))

	assert.True(t, provider.hasSlot(handle.Path, "passphrase:correct horse"))
}

func TestCreateWritesEscrowRecord(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)

	_, err := lc.Create("vaultA", 1024)
	require.NoError(t, err)

	assert.FileExists(t, lc.Keys.EscrowPath("vaultA"))
}

func TestRecoverKeyRestoresLostContainerKey(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)

	handle, err := lc.Create("vaultA", 1024)
	require.NoError(t, err)
	require.NoError(t, lc.Close("vaultA"))

	kp := lc.Keys.DerivePaths("vaultA")
	require.NoError(t, os.Remove(kp.PrivateKey))
	require.NoError(t, os.Remove(kp.PublicKey))

	recovered, err := lc.RecoverKey("vaultA")
	require.NoError(t, err)
	assert.Equal(t, kp, recovered)

	// The restored key opens the container again
	opened, err := lc.Open("vaultA", "")
	require.NoError(t, err)
	assert.Equal(t, handle.MapperName, opened.MapperName)
}

func TestRotateMasterResealsEscrow(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)

	_, err := lc.Create("vaultA", 1024)
	require.NoError(t, err)
	require.NoError(t, lc.Close("vaultA"))

	require.NoError(t, lc.RotateMaster("vaultA"))

	// Escrow must be recoverable with the rotated master key
	kp := lc.Keys.DerivePaths("vaultA")
	require.NoError(t, os.Remove(kp.PrivateKey))

	_, err = lc.RecoverKey("vaultA")
	require.NoError(t, err)
	assert.FileExists(t, kp.PrivateKey)
}

func TestHandleDerivation(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)

	h := lc.Handle("vaultA")
	assert.Equal(t, "vaultA", h.Name)
	assert.Equal(t, "vaultA_mapper", h.MapperName)
	assert.Equal(t, filepath.Join(lc.ContainersRoot, "vaultA.skr"), h.Path)

	// Name with the file suffix resolves to the same handle
	assert.Equal(t, h, lc.Handle("vaultA.skr"))
}
