package container

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nace/skrinja/internal/system"
)

// Confirmer answers yes/no questions when an operation hits contention,
// such as a busy mount that can only be detached forcibly.
type Confirmer interface {
	Confirm(prompt string) bool
}

// MountManager attaches opened mappings to their canonical mount points
// under the managed mount root and hands ownership to the invoking user.
type MountManager struct {
	executor        *system.Executor
	mountRoot       string
	containerSuffix string
}

// NewMountManager creates a new mount manager
func NewMountManager(executor *system.Executor, mountRoot, containerSuffix string) *MountManager {
	return &MountManager{
		executor:        executor,
		mountRoot:       mountRoot,
		containerSuffix: containerSuffix,
	}
}

// MountPath derives the canonical mount point for a mapper name: the
// managed suffix and any container-file suffix are stripped, the rest
// names a directory under the mount root.
func (m *MountManager) MountPath(mapperName string) string {
	name := strings.TrimSuffix(mapperName, mapperSuffix)
	name = strings.TrimSuffix(name, strings.ReplaceAll(m.containerSuffix, ".", "_"))
	name = strings.TrimSuffix(name, "_")
	return filepath.Join(m.mountRoot, name)
}

// Mount attaches /dev/mapper/<mapperName> at its canonical mount point,
// creating the mount root and directory if absent, and recursively
// assigns ownership of the tree to the invoking user. On attach failure
// the created mount directory is left in place for inspection.
func (m *MountManager) Mount(mapperName string) (string, error) {
	mountPoint := m.MountPath(mapperName)

	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create mount point %s: %v", ErrMountFailed, mountPoint, err)
	}

	device := "/dev/mapper/" + mapperName
	if err := m.executor.Run("mount", device, mountPoint); err != nil {
		return "", fmt.Errorf("%w: %s at %s: %v", ErrMountFailed, device, mountPoint, err)
	}

	uid, gid := system.InvokingUser()
	if err := m.executor.Run("chown", "-R", fmt.Sprintf("%d:%d", uid, gid), mountPoint); err != nil {
		return "", fmt.Errorf("%w: ownership fixup of %s: %v", ErrMountFailed, mountPoint, err)
	}

	return mountPoint, nil
}

// Unmount detaches a mount point. When the mount is busy the holders
// are reported and the confirmer chooses between a forced (lazy) detach
// and aborting with ErrUnmountBusy. There is no silent retry.
func (m *MountManager) Unmount(mountPoint string, confirm Confirmer) error {
	err := m.executor.Run("umount", mountPoint)
	if err == nil {
		return nil
	}

	if !isBusy(err) {
		return fmt.Errorf("failed to unmount %s: %w", mountPoint, err)
	}

	holders := m.describeHolders(mountPoint)
	prompt := fmt.Sprintf("Mount %s is busy", mountPoint)
	if holders != "" {
		prompt += ", held by:\n" + holders + "\nForce unmount?"
	} else {
		prompt += ". Force unmount?"
	}

	if confirm == nil || !confirm.Confirm(prompt) {
		return fmt.Errorf("%w: busy mount %s left attached", ErrUserDeclined, mountPoint)
	}

	if err := m.executor.Run("umount", "-l", mountPoint); err != nil {
		return fmt.Errorf("%w: forced detach of %s: %v", ErrUnmountBusy, mountPoint, err)
	}
	return nil
}

// MakeFilesystem creates a filesystem on a device
func (m *MountManager) MakeFilesystem(device, fsType string) error {
	switch fsType {
	case "ext4":
		return m.executor.Run("mkfs.ext4", "-q", device)
	case "xfs":
		return m.executor.Run("mkfs.xfs", "-q", device)
	case "btrfs":
		return m.executor.Run("mkfs.btrfs", "-q", device)
	default:
		return fmt.Errorf("unsupported filesystem: %s", fsType)
	}
}

// Mounts returns mapper-device → mount-point for every /dev/mapper
// mount under the managed mount root, read fresh from /proc/mounts.
func (m *MountManager) Mounts() (map[string]string, error) {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return nil, err
	}

	mounts := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		device, mountPoint := fields[0], fields[1]
		if !strings.HasPrefix(device, "/dev/mapper/") {
			continue
		}
		if !strings.HasPrefix(mountPoint, m.mountRoot+string(filepath.Separator)) {
			continue
		}
		mounts[device] = mountPoint
	}

	return mounts, nil
}

// describeHolders reports processes holding a mount point, best effort.
func (m *MountManager) describeHolders(mountPoint string) string {
	output, err := m.executor.RunOutput("fuser", "-vm", mountPoint)
	if err != nil {
		// fuser prints its table on stderr and exits nonzero when no
		// processes match; surface whatever it produced
		var cmdErr *system.CommandError
		if errors.As(err, &cmdErr) && strings.TrimSpace(cmdErr.Stderr) != "" {
			return strings.TrimSpace(cmdErr.Stderr)
		}
		return ""
	}
	return strings.TrimSpace(output)
}

func isBusy(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "busy")
}
