package stream

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint addresses a device. It is fixed for the lifetime of a worker.
type Endpoint struct {
	// Scheme is "tcp", "ws" or "wss".
	Scheme string
	Host   string
	Port   int
	// Path is only used by websocket endpoints.
	Path string
}

// NewEndpoint returns a plain TCP endpoint.
func NewEndpoint(host string, port int) Endpoint {
	return Endpoint{Scheme: "tcp", Host: host, Port: port}
}

// ParseEndpoint accepts "host:port", "tcp://host:port", "ws://host:port/path"
// and "wss://host:port/path".
func ParseEndpoint(raw string) (Endpoint, error) {
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}

	ep := Endpoint{Scheme: u.Scheme, Host: u.Hostname(), Path: u.Path}
	switch ep.Scheme {
	case "tcp", "ws", "wss":
	default:
		return Endpoint{}, fmt.Errorf("unsupported endpoint scheme %q", ep.Scheme)
	}
	if ep.Host == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q has no host", raw)
	}

	port := u.Port()
	switch {
	case port != "":
		ep.Port, err = strconv.Atoi(port)
		if err != nil {
			return Endpoint{}, fmt.Errorf("endpoint %q has invalid port: %w", raw, err)
		}
	case ep.Scheme == "ws":
		ep.Port = 80
	case ep.Scheme == "wss":
		ep.Port = 443
	default:
		return Endpoint{}, fmt.Errorf("endpoint %q has no port", raw)
	}
	if ep.Port <= 0 || ep.Port > 65535 {
		return Endpoint{}, fmt.Errorf("endpoint %q port out of range", raw)
	}
	return ep, nil
}

// Address returns the host:port pair.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the endpoint as a URL string.
func (e Endpoint) URL() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "tcp"
	}
	return scheme + "://" + e.Address() + e.Path
}

func (e Endpoint) String() string {
	return e.URL()
}
