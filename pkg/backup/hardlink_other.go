//go:build !unix

package backup

import "os"

// hardlinkKey has no portable inode identity outside unix; every file is
// treated as unlinked, which is equivalent to HardlinkStoreAll.
func hardlinkKey(info os.FileInfo) (string, bool) {
	return "", false
}
