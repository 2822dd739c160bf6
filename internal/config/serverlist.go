package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// DefaultServerList is the file read when neither the configuration nor the
// environment names one.
const DefaultServerList = "ocland_servers.txt"

// ServerListEnv overrides the server list path.
const ServerListEnv = "OCLAND_SERVERS"

var ErrEmptyServerList = errors.New("config: server list is empty")

// ServerListPath returns the server list to read: the environment override
// first, then path, then DefaultServerList.
func ServerListPath(path string) string {
	if env := os.Getenv(ServerListEnv); env != "" {
		return env
	}
	if path == "" {
		return DefaultServerList
	}
	return path
}

// LoadServerList reads the daemons to connect to, one per line.
func LoadServerList(path string) ([]string, error) {
	f, err := os.Open(ServerListPath(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseServerList(f)
}

// ParseServerList parses one address per line. Blank lines and text after
// '#' are ignored. Addresses without a port get DefaultPort.
func ParseServerList(r io.Reader) ([]string, error) {
	var servers []string
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		addr, err := ParseAddress(line)
		if err != nil {
			return nil, fmt.Errorf("config: server list line %d: %w", n, err)
		}
		servers = append(servers, addr)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, ErrEmptyServerList
	}
	return servers, nil
}

// ParseAddress accepts host, host:port, [v6], [v6]:port and a bare IPv6
// literal, and returns host:port.
func ParseAddress(s string) (string, error) {
	host, port := s, strconv.Itoa(DefaultPort)
	switch {
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		host = s[1 : len(s)-1]
	case strings.Count(s, ":") == 1 || strings.HasPrefix(s, "["):
		h, p, err := net.SplitHostPort(s)
		if err != nil {
			return "", err
		}
		host, port = h, p
	}
	if host == "" {
		return "", fmt.Errorf("missing host in %q", s)
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("invalid port in %q", s)
	}
	return net.JoinHostPort(host, port), nil
}
