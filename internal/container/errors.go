package container

import "errors"

// Operation error kinds. Every lifecycle failure wraps one of these so
// callers can branch on the kind while the message carries the failing
// step and resource path. Errors are fatal to the current operation but
// never to a batch; bulk recovery aggregates them per item instead.
var (
	// ErrKeyNotFound indicates no usable key file could be resolved for open.
	ErrKeyNotFound = errors.New("key not found")
	// ErrInsufficientSpace indicates the destination cannot hold the
	// requested container size.
	ErrInsufficientSpace = errors.New("insufficient space")
	// ErrOpenFailed indicates the block-encryption provider refused to
	// open the container.
	ErrOpenFailed = errors.New("open failed")
	// ErrMountFailed indicates the filesystem attach reported failure.
	ErrMountFailed = errors.New("mount failed")
	// ErrUnmountBusy indicates a busy mount was not forcibly detached.
	ErrUnmountBusy = errors.New("unmount busy")
	// ErrKeyFileNotFound indicates a keyslot operation referenced a key
	// file missing on disk, detected before invoking the provider.
	ErrKeyFileNotFound = errors.New("key file not found")
	// ErrUserDeclined indicates an operator declined a required confirmation.
	ErrUserDeclined = errors.New("declined by user")
	// ErrRotationInconsistent indicates master rotation failed after the
	// new key was enrolled but before the old keyslot was removed; the
	// canonical master key is left untouched.
	ErrRotationInconsistent = errors.New("master rotation inconsistent")
)
