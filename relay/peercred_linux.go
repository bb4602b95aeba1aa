//go:build linux

package relay

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerPID returns the PID of the process on the other end of conn.
func peerPID(conn *net.UnixConn) int32 {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0
	}

	var pid int32
	raw.Control(func(fd uintptr) {
		cred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err == nil {
			pid = cred.Pid
		}
	})
	return pid
}
