package netutil

import (
	"net"
	"testing"
)

func TestSelectBindAddrPreferredFree(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	got, err := SelectBindAddr(addr, nil, false)
	if err != nil {
		t.Fatalf("SelectBindAddr() error = %v", err)
	}
	if got != addr {
		t.Fatalf("SelectBindAddr() = %q, want %q", got, addr)
	}
}

func TestSelectBindAddrFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	free, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen free: %v", err)
	}
	freeAddr := free.Addr().String()
	_ = free.Close()

	got, err := SelectBindAddr(busy.Addr().String(), []string{busy.Addr().String(), freeAddr}, true)
	if err != nil {
		t.Fatalf("SelectBindAddr() error = %v", err)
	}
	if got != freeAddr {
		t.Fatalf("SelectBindAddr() = %q, want %q", got, freeAddr)
	}
}

func TestSelectBindAddrNoFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	if _, err := SelectBindAddr(busy.Addr().String(), nil, false); err == nil {
		t.Fatal("SelectBindAddr() error = nil; want in-use error")
	}
}

func TestExpandCandidates(t *testing.T) {
	got, err := ExpandCandidates("127.0.0.1:8190", []string{"8191-8193", "9000", "0.0.0.0:7000"})
	if err != nil {
		t.Fatalf("ExpandCandidates() error = %v", err)
	}
	want := []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193", "127.0.0.1:9000", "0.0.0.0:7000"}
	if len(got) != len(want) {
		t.Fatalf("ExpandCandidates() = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ExpandCandidates()[%d] = %q; want %q", i, got[i], want[i])
		}
	}
}

func TestExpandCandidatesRejectsBadSpecs(t *testing.T) {
	for _, entry := range []string{"abc", "9000-8000", "70000"} {
		if _, err := ExpandCandidates("127.0.0.1:8190", []string{entry}); err == nil {
			t.Fatalf("ExpandCandidates(%q) error = nil; want error", entry)
		}
	}
	if _, err := ExpandCandidates("nohost", nil); err == nil {
		t.Fatal("ExpandCandidates(bad bind) error = nil; want error")
	}
}
