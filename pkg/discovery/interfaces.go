package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	ErrServiceNotFound      = errors.New("service not found")
	ErrDiscoveryUnavailable = errors.New("discovery service unavailable")
)

// Resolver yields the backend base URL
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// Endpoint is one healthy backend instance
type Endpoint struct {
	ID      string   `json:"id"`
	Address string   `json:"address"`
	Port    int      `json:"port"`
	Tags    []string `json:"tags,omitempty"`
}

// URL builds scheme://address:port/prefix
func (e Endpoint) URL(scheme, pathPrefix string) string {
	if scheme == "" {
		scheme = "http"
	}
	host := e.Address
	if e.Port > 0 {
		host = net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
	}
	prefix := strings.TrimRight(pathPrefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, prefix)
}
