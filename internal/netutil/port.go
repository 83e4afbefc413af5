package netutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// SelectBindAddr returns preferred when it can be listened on, otherwise the
// first free candidate when autoFallback is set.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		if IsAddrAvailable(preferred) {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}

	for _, addr := range candidates {
		if IsAddrAvailable(addr) {
			return addr, nil
		}
	}

	return "", errors.New("no available capture bind addresses")
}

// IsAddrAvailable reports whether addr can be listened on right now.
func IsAddrAvailable(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// ExpandCandidates turns port entries into bind addresses on the host of
// bindAddr. An entry is a full host:port, a bare port, or a range "8191-8199".
func ExpandCandidates(bindAddr string, entries []string) ([]string, error) {
	host, _, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return nil, fmt.Errorf("bind address %q: %w", bindAddr, err)
	}

	var out []string
	for _, entry := range entries {
		if strings.Contains(entry, ":") {
			out = append(out, entry)
			continue
		}
		lo, hi, found := strings.Cut(entry, "-")
		if !found {
			hi = lo
		}
		from, err := parsePort(lo)
		if err != nil {
			return nil, err
		}
		to, err := parsePort(hi)
		if err != nil {
			return nil, err
		}
		if to < from {
			return nil, fmt.Errorf("port range %q is reversed", entry)
		}
		for p := from; p <= to; p++ {
			out = append(out, net.JoinHostPort(host, strconv.Itoa(p)))
		}
	}
	return out, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p <= 0 || p > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return p, nil
}
