//go:build unix

package fsatomic

import (
	"os"
	"syscall"
)

type ownerIDs struct {
	uid, gid int
}

func sysStat(info os.FileInfo) (ownerIDs, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return ownerIDs{}, false
	}
	return ownerIDs{uid: int(st.Uid), gid: int(st.Gid)}, true
}
