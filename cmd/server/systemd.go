package main

import (
	"net"
	"os"

	"github.com/keithlinneman/stancemap/internal/xerrors"
)

const (
	sdReady    = "READY=1"
	sdStopping = "STOPPING=1"
)

// sdNotify sends state to the socket systemd passes in NOTIFY_SOCKET for
// Type=notify units.
func sdNotify(state string) error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return xerrors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "dial notify socket")
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(state)); err != nil {
		return xerrors.Wrapf(err, "write %s", state)
	}
	return nil
}
