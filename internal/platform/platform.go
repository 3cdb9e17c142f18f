// Package platform answers the few host questions the workspace server
// cares about: which OS flavor it runs on, and whether file change
// notifications can be trusted for a project directory.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Platform is the detected host flavor.
type Platform string

const (
	MacOS   Platform = "macos"
	Linux   Platform = "linux"
	WSL1    Platform = "wsl1"
	WSL2    Platform = "wsl2"
	Unknown Platform = "unknown"
)

func (p Platform) String() string {
	switch p {
	case MacOS:
		return "macOS"
	case Linux:
		return "Linux"
	case WSL1:
		return "WSL1"
	case WSL2:
		return "WSL2"
	}
	return "Unknown"
}

var (
	detectOnce sync.Once
	detected   Platform
)

// Detect returns the current platform. The result is cached.
func Detect() Platform {
	detectOnce.Do(func() { detected = detect() })
	return detected
}

func detect() Platform {
	switch runtime.GOOS {
	case "darwin":
		return MacOS
	case "linux":
		procVersion, _ := os.ReadFile("/proc/version")
		return classifyLinux(string(procVersion), os.Getenv("WSL_DISTRO_NAME") != "")
	}
	return Unknown
}

// classifyLinux tells native Linux from WSL using /proc/version. WSL2
// kernels report "microsoft-standard"; WSL1 reports a capitalized
// "Microsoft" without it.
func classifyLinux(procVersion string, wslEnv bool) Platform {
	switch {
	case strings.Contains(procVersion, "microsoft-standard"):
		return WSL2
	case strings.Contains(procVersion, "Microsoft"):
		return WSL1
	case wslEnv || strings.Contains(procVersion, "microsoft"):
		if _, err := os.Stat("/run/WSL"); err == nil {
			return WSL2
		}
		return WSL1
	}
	return Linux
}

// WatchSupport reports whether fsnotify events are reliable under dir. When
// they are not, reason names the filesystem.
func WatchSupport(dir string) (ok bool, reason string) {
	if runtime.GOOS != "linux" {
		return true, ""
	}
	if Detect() == WSL1 {
		return false, "WSL1 does not deliver inotify events reliably"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return true, ""
	}
	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return true, ""
	}
	return watchSupportFor(mountType(string(mounts), abs))
}

// mountType returns the filesystem type of the longest mount point
// containing path, given the contents of /proc/mounts.
func mountType(mounts, path string) string {
	var matched, fsType string
	for _, line := range strings.Split(mounts, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mountPoint := fields[1]
		if !within(path, mountPoint) || (matched != "" && len(mountPoint) <= len(matched)) {
			continue
		}
		matched, fsType = mountPoint, fields[2]
	}
	return fsType
}

func within(path, mountPoint string) bool {
	if mountPoint == "/" || path == mountPoint {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(mountPoint, "/")+"/")
}

func watchSupportFor(fsType string) (bool, string) {
	switch {
	case fsType == "9p":
		return false, "9p mount (WSL2 Windows filesystem)"
	case fsType == "nfs" || fsType == "nfs4":
		return false, "NFS mount"
	case fsType == "cifs" || fsType == "smbfs" || fsType == "smb3":
		return false, "CIFS/SMB mount"
	case strings.HasPrefix(fsType, "fuse.sshfs"):
		return false, "SSHFS mount"
	}
	return true, ""
}
