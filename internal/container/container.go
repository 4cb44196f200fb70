package container

// ContainerHandle identifies one container across a lifecycle operation.
// All three derived names are pure functions of the container name, so
// handles can be recomputed at any time and carry no hidden state.
type ContainerHandle struct {
	Name       string // Logical container name
	Path       string // Absolute path to container file
	MapperName string // Device mapper name (<name>_mapper)
	MountPoint string // Canonical mount path, set once mounted
}

// Container is the discovery view of a (possibly active) container.
type Container struct {
	Name       string // Logical name, derived from the mapper name
	Path       string // Absolute path to container file
	MapperName string // Device mapper name
	MountPoint string // Where filesystem is mounted, if mounted
	Filesystem string // ext4, xfs, btrfs
	Size       uint64 // Size in bytes
	Used       uint64 // Used space in bytes
	IsActive   bool   // Mapping currently open
}
