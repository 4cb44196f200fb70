package container

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nace/skrinja/internal/audit"
	"github.com/nace/skrinja/internal/config"
	"github.com/nace/skrinja/internal/keys"
	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
)

// CryptProvider is the block-encryption provider surface the lifecycle
// depends on. LUKSManager is the production implementation.
type CryptProvider interface {
	Format(path, keyFile string) error
	Open(path, mapperName, keyFile string) error
	Close(mapperName string) error
	AddKey(path, authKeyFile, newKeyFile string) error
	AddPassphrase(path, authKeyFile string, passphrase *system.SecureBytes) error
	RemoveKey(path, keyFile string) error
	Status(mapperName string) (bool, error)
	ListActiveMappings() ([]string, error)
	DumpKeyslots(path string) (string, error)
	KeyslotCount(path string) (int, error)
}

// Mounter is the mount-manager surface the lifecycle depends on.
type Mounter interface {
	Mount(mapperName string) (string, error)
	Unmount(mountPoint string, confirm Confirmer) error
	MakeFilesystem(device, fsType string) error
	Mounts() (map[string]string, error)
}

// Lifecycle coordinates the key store, block-encryption provider and
// mount manager through every container state transition. It is the
// only component that drives more than one collaborator per operation,
// and it holds no state between calls: handles are derived from names,
// live state is rediscovered from the kernel.
type Lifecycle struct {
	Provider CryptProvider
	Mounter  Mounter
	Keys     *keys.Store
	Audit    *audit.Logger
	Log      *ui.Logger
	Confirm  Confirmer

	// PromptKeyPath, when set, is asked once for an alternate key file
	// if a container's own private key is missing during open. There is
	// no retry loop beyond this single prompt.
	PromptKeyPath func(name string) string

	ContainersRoot    string
	ContainerSuffix   string
	Filesystem        string
	RollbackOnFailure bool

	// Overridable for tests; default to the real filesystem.
	FreeSpace func(path string) (uint64, error)
	Allocate  func(path string, size uint64) error
}

// NewLifecycle creates a lifecycle manager over the given collaborators.
func NewLifecycle(executor *system.Executor, provider CryptProvider, mounter Mounter, ks *keys.Store, cfg *config.Config) *Lifecycle {
	return &Lifecycle{
		Provider:          provider,
		Mounter:           mounter,
		Keys:              ks,
		ContainersRoot:    cfg.ContainersRoot,
		ContainerSuffix:   cfg.ContainerSuffix,
		Filesystem:        cfg.Filesystem,
		RollbackOnFailure: cfg.CreateRollback,
		FreeSpace:         system.GetAvailableSpace,
		Allocate: func(path string, size uint64) error {
			return system.AllocateFile(executor, path, size)
		},
	}
}

// Handle derives the container handle for a logical name. A trailing
// container-file suffix on the name is tolerated and stripped.
func (l *Lifecycle) Handle(name string) ContainerHandle {
	name = strings.TrimSuffix(name, l.ContainerSuffix)
	return ContainerHandle{
		Name:       name,
		Path:       filepath.Join(l.ContainersRoot, name+l.ContainerSuffix),
		MapperName: MapperName(name, l.ContainerSuffix),
	}
}

// Open opens a container's device mapping. The key file defaults to the
// container's own private key; if that is missing, the injected prompt
// is asked once for an alternate. A stale mapping under the same name
// is closed first, so re-opening after a crash always succeeds with
// exactly one live mapping.
func (l *Lifecycle) Open(name, keyFile string) (handle *ContainerHandle, err error) {
	h := l.Handle(name)
	defer func() { l.record("open", h.Name, err) }()

	kf := keyFile
	if kf == "" {
		kf = l.Keys.DerivePaths(h.Name).PrivateKey
		if !system.FileExists(kf) && l.PromptKeyPath != nil {
			kf = l.PromptKeyPath(h.Name)
		}
	}
	if kf == "" || !system.FileExists(kf) {
		err = fmt.Errorf("%w: no usable key file for container %s (tried %q)", ErrKeyNotFound, h.Name, kf)
		return nil, err
	}

	active, err := l.Provider.Status(h.MapperName)
	if err != nil {
		return nil, err
	}
	if active {
		l.warnf("Mapping %s already active, closing stale mapping", h.MapperName)
		if err = l.Provider.Close(h.MapperName); err != nil {
			return nil, fmt.Errorf("failed to close stale mapping %s: %w", h.MapperName, err)
		}
	}

	if openErr := l.Provider.Open(h.Path, h.MapperName, kf); openErr != nil {
		err = fmt.Errorf("%w: container %s with key %s: %v", ErrOpenFailed, h.Name, kf, openErr)
		return nil, err
	}

	return &h, nil
}

// Create provisions a new container end to end: space check, full-size
// allocation, dedicated key pair, format, open, filesystem, master key
// enrollment, mount. A step failure aborts the remaining steps; whether
// completed steps are rolled back is a configured policy
// (RollbackOnFailure), otherwise artifacts are left for operator
// recovery.
func (l *Lifecycle) Create(name string, sizeBytes uint64) (handle *ContainerHandle, err error) {
	h := l.Handle(name)
	defer func() { l.record("create", h.Name, err) }()

	if system.FileExists(h.Path) {
		err = fmt.Errorf("container already exists: %s", h.Path)
		return nil, err
	}

	free, err := l.FreeSpace(l.ContainersRoot)
	if err != nil {
		return nil, err
	}
	if free < sizeBytes {
		err = fmt.Errorf("%w: need %s but only %s available under %s",
			ErrInsufficientSpace, system.FormatSize(sizeBytes), system.FormatSize(free), l.ContainersRoot)
		return nil, err
	}

	rollback := system.NewCleanupStack()
	defer func() {
		if err == nil {
			return
		}
		if !l.RollbackOnFailure {
			rollback.Clear()
			return
		}
		if cerr := rollback.Execute(); cerr != nil {
			l.warnf("Rollback errors: %v", cerr)
		}
	}()

	l.infof("Allocating %s container file at %s", system.FormatSize(sizeBytes), h.Path)
	if err = l.Allocate(h.Path, sizeBytes); err != nil {
		return nil, err
	}
	rollback.Add(func() error { return os.Remove(h.Path) })

	l.infof("Generating key pair for %s", h.Name)
	kp, err := l.Keys.CreateKeyPair(h.Name)
	if err != nil {
		return nil, err
	}
	rollback.Add(func() error { return l.Keys.RemoveKeyPair(h.Name) })

	l.infof("Formatting encrypted container")
	if err = l.Provider.Format(h.Path, kp.PrivateKey); err != nil {
		return nil, err
	}

	opened, err := l.Open(h.Name, kp.PrivateKey)
	if err != nil {
		return nil, err
	}
	h = *opened
	rollback.Add(func() error { return l.Provider.Close(h.MapperName) })

	l.infof("Creating %s filesystem", l.Filesystem)
	if err = l.Mounter.MakeFilesystem("/dev/mapper/"+h.MapperName, l.Filesystem); err != nil {
		return nil, err
	}

	if err = l.Keys.EnsureMasterKeyPair(); err != nil {
		return nil, err
	}
	l.infof("Enrolling master key")
	master := l.Keys.MasterPaths()
	if err = l.Provider.AddKey(h.Path, kp.PrivateKey, master.PrivateKey); err != nil {
		return nil, err
	}
	if err = l.Keys.EscrowContainerKey(h.Name); err != nil {
		return nil, err
	}

	mountPoint, err := l.Mounter.Mount(h.MapperName)
	if err != nil {
		return nil, err
	}
	h.MountPoint = mountPoint

	rollback.Clear()
	return &h, nil
}

// Mount attaches an already-opened container's filesystem.
func (l *Lifecycle) Mount(name string) (mountPoint string, err error) {
	h := l.Handle(name)
	defer func() { l.record("mount", h.Name, err) }()

	active, err := l.Provider.Status(h.MapperName)
	if err != nil {
		return "", err
	}
	if !active {
		err = fmt.Errorf("container %s is not opened (no active mapping %s)", h.Name, h.MapperName)
		return "", err
	}

	mountPoint, err = l.Mounter.Mount(h.MapperName)
	return mountPoint, err
}

// Unmount detaches a container's filesystem, leaving the mapping open.
func (l *Lifecycle) Unmount(name string) (err error) {
	h := l.Handle(name)
	defer func() { l.record("unmount", h.Name, err) }()

	mounts, err := l.Mounter.Mounts()
	if err != nil {
		return err
	}
	mountPoint, ok := mounts["/dev/mapper/"+h.MapperName]
	if !ok {
		err = fmt.Errorf("container %s is not mounted", h.Name)
		return err
	}

	err = l.Mounter.Unmount(mountPoint, l.Confirm)
	return err
}

// Close unmounts (if mounted) and closes a container's mapping.
// Closing a container with no active mapping is a no-op success.
func (l *Lifecycle) Close(name string) (err error) {
	h := l.Handle(name)
	defer func() { l.record("close", h.Name, err) }()

	mounts, err := l.Mounter.Mounts()
	if err != nil {
		return err
	}
	if mountPoint, ok := mounts["/dev/mapper/"+h.MapperName]; ok {
		if err = l.Mounter.Unmount(mountPoint, l.Confirm); err != nil {
			return err
		}
	}

	active, err := l.Provider.Status(h.MapperName)
	if err != nil {
		return err
	}
	if !active {
		return nil
	}

	err = l.Provider.Close(h.MapperName)
	return err
}

// AddKey enrolls an additional key file into a container's keyslot
// table. The authenticating key defaults to the container's own
// private key.
func (l *Lifecycle) AddKey(name, authKeyFile, newKeyFile string) (err error) {
	h := l.Handle(name)
	defer func() { l.record("add-key", h.Name, err) }()

	if authKeyFile == "" {
		authKeyFile = l.Keys.DerivePaths(h.Name).PrivateKey
	}
	err = l.Provider.AddKey(h.Path, authKeyFile, newKeyFile)
	return err
}

// AddPassphrase enrolls an interactive passphrase into a container's
// keyslot table, for opening with cryptsetup directly when no key file
// is at hand. The authenticating key defaults to the container's own
// private key.
func (l *Lifecycle) AddPassphrase(name, authKeyFile string, passphrase *system.SecureBytes) (err error) {
	h := l.Handle(name)
	defer func() { l.record("add-passphrase", h.Name, err) }()

	if authKeyFile == "" {
		authKeyFile = l.Keys.DerivePaths(h.Name).PrivateKey
	}
	err = l.Provider.AddPassphrase(h.Path, authKeyFile, passphrase)
	return err
}

// RemoveKey removes the keyslot unlocked by keyFile. Removing the last
// remaining keyslot is rejected and the keyslot table left unchanged,
// since that would render the container permanently unopenable.
func (l *Lifecycle) RemoveKey(name, keyFile string) (err error) {
	h := l.Handle(name)
	defer func() { l.record("remove-key", h.Name, err) }()

	count, err := l.Provider.KeyslotCount(h.Path)
	if err != nil {
		return err
	}
	if count <= 1 {
		err = fmt.Errorf("refusing to remove the last keyslot of container %s", h.Name)
		return err
	}

	err = l.Provider.RemoveKey(h.Path, keyFile)
	return err
}

// RotateMaster replaces the master keyslot of one container with a
// freshly generated master key pair, then promotes the new pair to the
// canonical master path. Rotation authenticates exclusively with the
// container's own key, so it never depends on the key being replaced,
// and the container holds at least one valid master-capable keyslot at
// every instant: the new slot is enrolled before the old one is
// removed. If removal fails after enrollment the canonical master key
// is left untouched and the inconsistency is reported, never silently
// promoted over.
func (l *Lifecycle) RotateMaster(name string) (err error) {
	h := l.Handle(name)
	defer func() { l.record("rotate-master", h.Name, err) }()

	containerKey := l.Keys.DerivePaths(h.Name).PrivateKey
	if !system.FileExists(containerKey) {
		err = fmt.Errorf("%w: container key %s (rotation authenticates with the container key)", ErrKeyNotFound, containerKey)
		return err
	}
	master := l.Keys.MasterPaths()
	if !system.FileExists(master.PrivateKey) {
		err = fmt.Errorf("%w: master key %s", ErrKeyNotFound, master.PrivateKey)
		return err
	}

	candidate, err := l.Keys.GenerateMasterCandidate()
	if err != nil {
		return err
	}

	opened, err := l.Open(h.Name, containerKey)
	if err != nil {
		l.Keys.DiscardMasterCandidate(candidate)
		return err
	}
	h = *opened

	if err = l.Provider.AddKey(h.Path, containerKey, candidate.PrivateKey); err != nil {
		l.Provider.Close(h.MapperName)
		l.Keys.DiscardMasterCandidate(candidate)
		return err
	}

	if removeErr := l.Provider.RemoveKey(h.Path, master.PrivateKey); removeErr != nil {
		l.Provider.Close(h.MapperName)
		// Both master slots are enrolled now. Keep the candidate on
		// disk so an operator can finish the rotation by hand.
		err = fmt.Errorf("%w: container %s holds both old and new master keyslots, candidate key kept at %s: %v",
			ErrRotationInconsistent, h.Name, candidate.PrivateKey, removeErr)
		return err
	}

	if err = l.Provider.Close(h.MapperName); err != nil {
		return err
	}

	if err = l.Keys.PromoteMasterCandidate(candidate); err != nil {
		return err
	}

	// The escrow record is sealed under the key that was just retired;
	// re-seal it under the new master key or recovery would need the
	// old one.
	err = l.Keys.EscrowContainerKey(h.Name)
	return err
}

// RecoverKey restores a container's key pair from its escrow record.
// Requires the master private key; the container itself is not touched.
func (l *Lifecycle) RecoverKey(name string) (kp keys.KeyPaths, err error) {
	h := l.Handle(name)
	defer func() { l.record("recover-key", h.Name, err) }()

	kp, err = l.Keys.RecoverContainerKey(h.Name)
	return kp, err
}

// BulkReport aggregates per-item outcomes of a bulk recovery run.
type BulkReport struct {
	Succeeded []string
	Failed    map[string]error
}

func newBulkReport() *BulkReport {
	return &BulkReport{Failed: make(map[string]error)}
}

func (r *BulkReport) ok(target string) {
	r.Succeeded = append(r.Succeeded, target)
}

func (r *BulkReport) fail(target string, err error) {
	r.Failed[target] = err
}

// Err returns all per-item failures joined, or nil if everything succeeded.
func (r *BulkReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, target := range r.failedTargets() {
		errs = append(errs, fmt.Errorf("%s: %w", target, r.Failed[target]))
	}
	return errors.Join(errs...)
}

// Summary renders a human-readable end-of-run report.
func (r *BulkReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d succeeded, %d failed", len(r.Succeeded), len(r.Failed))
	for _, target := range r.failedTargets() {
		fmt.Fprintf(&b, "\n  %s: %v", target, r.Failed[target])
	}
	return b.String()
}

func (r *BulkReport) failedTargets() []string {
	targets := make([]string, 0, len(r.Failed))
	for target := range r.Failed {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

// CloseAllMappings closes every live managed mapping, unmounting first
// where a filesystem is attached. The live set is derived from the
// provider and the mount table at call time, never from remembered
// state. A failure on one mapping does not stop the others; all
// outcomes are aggregated into the returned report. The error return is
// reserved for enumeration failure.
func (l *Lifecycle) CloseAllMappings() (*BulkReport, error) {
	mappings, err := l.Provider.ListActiveMappings()
	if err != nil {
		return nil, err
	}
	mounts, err := l.Mounter.Mounts()
	if err != nil {
		return nil, err
	}

	report := newBulkReport()
	for _, mapper := range mappings {
		if !IsManagedMapper(mapper) {
			continue
		}

		if mountPoint, ok := mounts["/dev/mapper/"+mapper]; ok {
			if uerr := l.Mounter.Unmount(mountPoint, l.Confirm); uerr != nil {
				report.fail(mapper, uerr)
				l.record("close-all", mapper, uerr)
				continue
			}
		}

		if cerr := l.Provider.Close(mapper); cerr != nil {
			report.fail(mapper, cerr)
			l.record("close-all", mapper, cerr)
			continue
		}

		report.ok(mapper)
		l.record("close-all", mapper, nil)
	}

	return report, nil
}

// UnmountAllVolumes unmounts every managed mount, leaving mappings
// open. Same discovery and aggregation rules as CloseAllMappings.
func (l *Lifecycle) UnmountAllVolumes() (*BulkReport, error) {
	mounts, err := l.Mounter.Mounts()
	if err != nil {
		return nil, err
	}

	report := newBulkReport()
	for device, mountPoint := range mounts {
		if !IsManagedMapper(strings.TrimPrefix(device, "/dev/mapper/")) {
			continue
		}
		if uerr := l.Mounter.Unmount(mountPoint, l.Confirm); uerr != nil {
			report.fail(mountPoint, uerr)
			l.record("unmount-all", mountPoint, uerr)
			continue
		}
		report.ok(mountPoint)
		l.record("unmount-all", mountPoint, nil)
	}

	return report, nil
}

func (l *Lifecycle) record(operation, target string, err error) {
	if l.Audit == nil {
		return
	}
	if logErr := l.Audit.Record(operation, target, err); logErr != nil {
		l.warnf("Audit log write failed: %v", logErr)
	}
}

func (l *Lifecycle) infof(format string, args ...interface{}) {
	if l.Log != nil {
		l.Log.Info(format, args...)
	}
}

func (l *Lifecycle) warnf(format string, args ...interface{}) {
	if l.Log != nil {
		l.Log.Warning(format, args...)
	}
}
