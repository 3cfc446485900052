package netutil

import (
	"net"
	"strconv"
	"testing"
)

// freePort grabs an ephemeral port and releases it so tests can offer
// it as a candidate.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	_ = ln.Close()
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return port
}

func TestSelectBindAddrPreferredFree(t *testing.T) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))

	got, err := SelectBindAddr(addr, nil, false)
	if err != nil {
		t.Fatalf("SelectBindAddr() error = %v", err)
	}
	if got != addr {
		t.Fatalf("SelectBindAddr() = %q, want %q", got, addr)
	}
}

func TestSelectBindAddrFallsBackToCandidatePort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	candidate := freePort(t)

	got, err := SelectBindAddr(busy.Addr().String(), []int{candidate}, true)
	if err != nil {
		t.Fatalf("SelectBindAddr() error = %v", err)
	}
	want := net.JoinHostPort("127.0.0.1", strconv.Itoa(candidate))
	if got != want {
		t.Fatalf("SelectBindAddr() = %q, want %q", got, want)
	}
}

func TestSelectBindAddrKeepsPreferredHost(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	// The candidate port is expanded on the preferred address's host.
	_, busyPortStr, _ := net.SplitHostPort(busy.Addr().String())
	preferred := net.JoinHostPort("127.0.0.1", busyPortStr)
	candidate := freePort(t)

	got, err := SelectBindAddr(preferred, []int{candidate}, true)
	if err != nil {
		t.Fatalf("SelectBindAddr() error = %v", err)
	}
	host, _, err := net.SplitHostPort(got)
	if err != nil {
		t.Fatalf("split selected addr: %v", err)
	}
	if host != "127.0.0.1" {
		t.Fatalf("selected host = %q, want 127.0.0.1", host)
	}
}

func TestSelectBindAddrPreferredBusyNoFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	if _, err := SelectBindAddr(busy.Addr().String(), []int{freePort(t)}, false); err == nil {
		t.Fatal("expected error when preferred address is busy and fallback disabled")
	}
}

func TestSelectBindAddrNoCandidates(t *testing.T) {
	if _, err := SelectBindAddr("", nil, true); err == nil {
		t.Fatal("expected error when no candidate is available")
	}
}
