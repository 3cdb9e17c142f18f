package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleMounts = `/dev/sda1 / ext4 rw,relatime 0 0
proc /proc proc rw,nosuid 0 0
drvfs /mnt/c 9p rw,noatime 0 0
server:/export /mnt/share nfs4 rw 0 0
user@host:/home /mnt/remote fuse.sshfs rw 0 0
/dev/sdb1 /mnt/cache ext4 rw 0 0
`

func TestMountType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/home/me/src", "ext4"},
		{"/mnt/c/Users/me/proj", "9p"},
		{"/mnt/c", "9p"},
		{"/mnt/share/repo", "nfs4"},
		{"/mnt/remote/work", "fuse.sshfs"},
		// A shared prefix is not containment.
		{"/mnt/cachefoo", "ext4"},
		{"/mnt/cache/x", "ext4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mountType(sampleMounts, tt.path), tt.path)
	}
	assert.Empty(t, mountType("", "/x"))
}

func TestWatchSupportFor(t *testing.T) {
	for _, fsType := range []string{"ext4", "btrfs", "apfs", "tmpfs", "overlay", ""} {
		ok, reason := watchSupportFor(fsType)
		assert.True(t, ok, fsType)
		assert.Empty(t, reason)
	}
	for _, fsType := range []string{"9p", "nfs", "nfs4", "cifs", "smbfs", "fuse.sshfs"} {
		ok, reason := watchSupportFor(fsType)
		assert.False(t, ok, fsType)
		assert.NotEmpty(t, reason)
	}
}

func TestClassifyLinux(t *testing.T) {
	assert.Equal(t, WSL2, classifyLinux("Linux version 5.15.90.1-microsoft-standard-WSL2", true))
	assert.Equal(t, WSL1, classifyLinux("Linux version 4.4.0-19041-Microsoft", true))
	assert.Equal(t, Linux, classifyLinux("Linux version 6.8.0-45-generic (buildd@lcy02)", false))
}

func TestPlatformString(t *testing.T) {
	tests := []struct {
		platform Platform
		expected string
	}{
		{MacOS, "macOS"},
		{Linux, "Linux"},
		{WSL1, "WSL1"},
		{WSL2, "WSL2"},
		{Unknown, "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.platform.String())
	}
}

func TestDetectIsCached(t *testing.T) {
	assert.Equal(t, Detect(), Detect())
}
