// Package activation adopts listeners passed in via systemd socket
// activation, so the watch-mode status server can be socket-activated
// instead of binding its own address.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// listenFDStart is the first file descriptor systemd passes sockets on
// (0=stdin, 1=stdout, 2=stderr).
const listenFDStart = 3

// Listeners returns the systemd-activated listeners for this process.
// Returns nil without error when no activation is present or the
// activation targets a different process.
func Listeners() ([]net.Listener, error) {
	pid, err := intEnv("LISTEN_PID")
	if err != nil {
		return nil, err
	}
	if pid == 0 || pid != os.Getpid() {
		return nil, nil
	}

	numFDs, err := intEnv("LISTEN_FDS")
	if err != nil {
		return nil, err
	}
	if numFDs < 1 {
		return nil, nil
	}

	listeners := make([]net.Listener, 0, numFDs)
	for i := 0; i < numFDs; i++ {
		fd := listenFDStart + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("promirror-socket-%d", i))
		if file == nil {
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		listener, err := net.FileListener(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}

		// The listener duplicated the descriptor, the file can go.
		_ = file.Close()

		listeners = append(listeners, listener)
	}

	// Scrub the activation variables so child processes don't inherit them
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// intEnv parses a numeric environment variable, treating absence as zero.
func intEnv(name string) (int, error) {
	val := os.Getenv(name)
	if val == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, val, err)
	}
	return n, nil
}
