package container

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nace/skrinja/internal/system"
)

// Discovery reconstructs container state by querying the kernel rather
// than trusting any in-process bookkeeping. Bulk recovery and listing
// both go through here so stale mappings from crashed sessions are
// always visible.
type Discovery struct {
	executor *system.Executor
	luks     *LUKSManager
	mounts   *MountManager
}

// NewDiscovery creates a new discovery instance
func NewDiscovery(executor *system.Executor, luks *LUKSManager, mounts *MountManager) *Discovery {
	return &Discovery{
		executor: executor,
		luks:     luks,
		mounts:   mounts,
	}
}

// DiscoverActive returns every live managed container, correlating
// active crypt mappings, loop backing files and the mount table.
func (d *Discovery) DiscoverActive() ([]Container, error) {
	mappers, err := d.luks.ListActiveMappings()
	if err != nil {
		return nil, err
	}

	loopDevices, err := d.loopBackingFiles()
	if err != nil {
		return nil, err
	}

	mounts, err := d.mounts.Mounts()
	if err != nil {
		return nil, err
	}

	var containers []Container
	for _, mapper := range mappers {
		name, ok := NameFromMapper(mapper)
		if !ok {
			continue
		}

		c := Container{
			Name:       name,
			MapperName: mapper,
			IsActive:   true,
		}

		if loopDev, err := d.mapperLoopDevice(mapper); err == nil {
			if backFile, ok := loopDevices[loopDev]; ok {
				absPath, _ := filepath.Abs(backFile)
				c.Path = absPath
			}
		}

		device := "/dev/mapper/" + mapper
		if mountPoint, ok := mounts[device]; ok {
			c.MountPoint = mountPoint
			c.Filesystem, c.Size, c.Used = d.filesystemInfo(mountPoint)
		} else if c.Path != "" {
			// Opened but not mounted: fall back to the allocated file size
			if size, err := system.GetFileSize(c.Path); err == nil {
				c.Size = size
			}
		}

		containers = append(containers, c)
	}

	return containers, nil
}

// FindByName finds a live container by its logical name.
func (d *Discovery) FindByName(name string) (*Container, error) {
	containers, err := d.DiscoverActive()
	if err != nil {
		return nil, err
	}

	for _, c := range containers {
		if c.Name == name {
			return &c, nil
		}
	}

	return nil, nil
}

// losetupDevice represents a loop device from losetup -l -J output
type losetupDevice struct {
	Name     string `json:"name"`
	BackFile string `json:"back-file"`
}

type losetupOutput struct {
	LoopDevices []losetupDevice `json:"loopdevices"`
}

// loopBackingFiles returns loop-device → backing-file for all loop
// devices. cryptsetup attaches these itself when opening file-backed
// containers, so this is the only place loop devices are inspected.
func (d *Discovery) loopBackingFiles() (map[string]string, error) {
	output, err := d.executor.RunOutput("losetup", "-l", "-J")
	if err != nil {
		return nil, fmt.Errorf("failed to list loop devices: %w", err)
	}

	var result losetupOutput
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		return nil, fmt.Errorf("failed to parse losetup output: %w", err)
	}

	devices := make(map[string]string)
	for _, dev := range result.LoopDevices {
		if dev.BackFile != "" {
			devices[dev.Name] = dev.BackFile
		}
	}

	return devices, nil
}

// mapperLoopDevice gets the backing loop device for a mapper.
// dmsetup table reports the backing device as major:minor; loop devices
// always have major number 7.
func (d *Discovery) mapperLoopDevice(mapper string) (string, error) {
	output, err := d.executor.RunOutput("dmsetup", "table", mapper)
	if err != nil {
		return "", err
	}

	// Format: "0 sectors crypt cipher ... backing_device offset"
	fields := strings.Fields(output)
	if len(fields) < 7 {
		return "", fmt.Errorf("invalid dmsetup table format")
	}
	device := fields[6]

	if strings.Contains(device, ":") {
		parts := strings.Split(device, ":")
		if len(parts) == 2 && parts[0] == "7" {
			device = "/dev/loop" + parts[1]
		}
	}

	return device, nil
}

// filesystemInfo gets filesystem type and usage for a mount point, best effort.
func (d *Discovery) filesystemInfo(mountPoint string) (fsType string, size, used uint64) {
	output, err := d.executor.RunOutput("df", "--block-size=1", "--output=fstype,size,used", mountPoint)
	if err != nil {
		return "", 0, 0
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return "", 0, 0
	}

	fields := strings.Fields(lines[1])
	if len(fields) < 3 {
		return "", 0, 0
	}

	fsType = fields[0]
	fmt.Sscanf(fields[1], "%d", &size)
	fmt.Sscanf(fields[2], "%d", &used)
	return fsType, size, used
}
