package container

import (
	"bytes"
	"fmt"
	"os/exec"

	"github.com/nace/skrinja/internal/system"
)

// LUKSManager is the cryptsetup-backed block-encryption provider.
// All operations are synchronous and require elevated privilege; each
// failure carries the executor's CommandError in the wrap chain.
type LUKSManager struct {
	executor *system.Executor
}

// NewLUKSManager creates a new LUKS manager
func NewLUKSManager(executor *system.Executor) *LUKSManager {
	return &LUKSManager{
		executor: executor,
	}
}

// Format initializes path as a LUKS2 container whose sole keyslot is
// unlocked by keyFile.
func (m *LUKSManager) Format(path, keyFile string) error {
	err := m.executor.Run("cryptsetup", "luksFormat", "--type", "luks2",
		"--batch-mode", "--key-file", keyFile, path)
	if err != nil {
		return fmt.Errorf("failed to format container %s: %w", path, err)
	}
	return nil
}

// IsLUKS checks if a file is LUKS formatted
func (m *LUKSManager) IsLUKS(path string) (bool, error) {
	err := m.executor.Run("cryptsetup", "isLuks", path)
	return err == nil, nil
}

// Open opens the container under the given mapper name.
func (m *LUKSManager) Open(path, mapperName, keyFile string) error {
	err := m.executor.Run("cryptsetup", "luksOpen",
		"--key-file", keyFile, path, mapperName)
	if err != nil {
		return fmt.Errorf("failed to open container %s as %s: %w", path, mapperName, err)
	}
	return nil
}

// Close tears down an active mapping.
func (m *LUKSManager) Close(mapperName string) error {
	err := m.executor.Run("cryptsetup", "luksClose", mapperName)
	if err != nil {
		return fmt.Errorf("failed to close mapping %s: %w", mapperName, err)
	}
	return nil
}

// AddKey enrolls newKeyFile as an additional keyslot, authenticated by
// authKeyFile. Both files are checked on disk before cryptsetup runs.
func (m *LUKSManager) AddKey(path, authKeyFile, newKeyFile string) error {
	if !system.FileExists(authKeyFile) {
		return fmt.Errorf("%w: authenticating key %s", ErrKeyFileNotFound, authKeyFile)
	}
	if !system.FileExists(newKeyFile) {
		return fmt.Errorf("%w: new key %s", ErrKeyFileNotFound, newKeyFile)
	}

	err := m.executor.Run("cryptsetup", "luksAddKey",
		"--key-file", authKeyFile, path, newKeyFile)
	if err != nil {
		return fmt.Errorf("failed to add keyslot to %s: %w", path, err)
	}
	return nil
}

// RemoveKey removes the keyslot that keyFile unlocks.
func (m *LUKSManager) RemoveKey(path, keyFile string) error {
	if !system.FileExists(keyFile) {
		return fmt.Errorf("%w: key %s", ErrKeyFileNotFound, keyFile)
	}

	err := m.executor.Run("cryptsetup", "luksRemoveKey",
		"--key-file", keyFile, path)
	if err != nil {
		return fmt.Errorf("failed to remove keyslot from %s: %w", path, err)
	}
	return nil
}

// AddPassphrase enrolls an interactive passphrase as an additional
// keyslot, authenticated by authKeyFile. The passphrase is fed to
// cryptsetup on stdin, never via argv.
func (m *LUKSManager) AddPassphrase(path, authKeyFile string, passphrase *system.SecureBytes) error {
	if !system.FileExists(authKeyFile) {
		return fmt.Errorf("%w: authenticating key %s", ErrKeyFileNotFound, authKeyFile)
	}

	cmd := exec.Command("cryptsetup", "luksAddKey",
		"--key-file", authKeyFile, path)
	cmd.Stdin = bytes.NewReader(passphrase.Bytes())
	if _, err := m.executor.RunCmd(cmd); err != nil {
		return fmt.Errorf("failed to add passphrase keyslot to %s: %w", path, err)
	}
	return nil
}

// Status reports whether a mapping with the given name is active.
// cryptsetup exits nonzero for inactive or unknown mappings; an error
// without an exit code means the query itself failed.
func (m *LUKSManager) Status(mapperName string) (bool, error) {
	err := m.executor.Run("cryptsetup", "status", mapperName)
	if err == nil {
		return true, nil
	}
	if system.ExitCode(err) >= 0 {
		return false, nil
	}
	return false, err
}

// ListActiveMappings returns the names of all active crypt mappings.
// dmsetup exits nonzero when none exist, which is an empty result.
func (m *LUKSManager) ListActiveMappings() ([]string, error) {
	output, err := m.executor.RunOutput("dmsetup", "ls", "--target", "crypt")
	if err != nil {
		return nil, nil
	}
	return system.ParseMapperNames(output), nil
}

// DumpKeyslots returns the provider's keyslot table report.
func (m *LUKSManager) DumpKeyslots(path string) (string, error) {
	output, err := m.executor.RunOutput("cryptsetup", "luksDump", path)
	if err != nil {
		return "", fmt.Errorf("failed to dump keyslots of %s: %w", path, err)
	}
	return output, nil
}

// KeyslotCount returns the number of occupied keyslots.
func (m *LUKSManager) KeyslotCount(path string) (int, error) {
	dump, err := m.DumpKeyslots(path)
	if err != nil {
		return 0, err
	}
	return len(system.ParseKeyslotIDs(dump)), nil
}
