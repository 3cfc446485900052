// Package netutil selects the address the API server listens on.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// SelectBindAddr returns the first bindable address. The preferred
// host:port wins when it is free; otherwise, with autoFallback set, the
// candidate ports are probed in order on the preferred host.
func SelectBindAddr(preferred string, candidatePorts []int, autoFallback bool) (string, error) {
	host := "127.0.0.1"
	if h, _, err := net.SplitHostPort(preferred); err == nil && h != "" {
		host = h
	}

	if preferred != "" {
		ok, err := isAddrFree(preferred)
		if err != nil {
			return "", err
		}
		if ok {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}

	for _, port := range candidatePorts {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ok, err := isAddrFree(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}

	return "", errors.New("no available warden bind addresses")
}

// isAddrFree probes an address by listening on it briefly.
func isAddrFree(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}
