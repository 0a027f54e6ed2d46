//go:build unix

package backup

import (
	"fmt"
	"os"
	"syscall"
)

// hardlinkKey returns a (device, inode) identity for info and whether it
// is link-counted (Nlink > 1), so the enumerator can apply
// HardlinkStoreOnce without re-reading a file already seen under another
// name.
func hardlinkKey(info os.FileInfo) (string, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st.Nlink <= 1 {
		return "", false
	}
	return fmt.Sprintf("%d:%d", st.Dev, st.Ino), true
}
