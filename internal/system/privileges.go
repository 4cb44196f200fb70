package system

import (
	"fmt"
	"os"
	"strconv"
)

// IsRoot checks if running as root
func IsRoot() bool {
	return os.Geteuid() == 0
}

// RequireRoot ensures the program is running as root
func RequireRoot() error {
	if !IsRoot() {
		return fmt.Errorf("this command must be run as root (try with sudo)")
	}
	return nil
}

// InvokingUser returns the uid and gid of the user who invoked the
// process. Under sudo this is the original user from SUDO_UID/SUDO_GID,
// so mounted trees can be handed back to them rather than left
// root-owned.
func InvokingUser() (uid, gid int) {
	uid = os.Getuid()
	gid = os.Getgid()
	if s := os.Getenv("SUDO_UID"); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			uid = v
		}
	}
	if s := os.Getenv("SUDO_GID"); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			gid = v
		}
	}
	return uid, gid
}
