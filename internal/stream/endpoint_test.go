package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Endpoint
	}{
		{"bare host port", "localhost:9000", Endpoint{Scheme: "tcp", Host: "localhost", Port: 9000}},
		{"tcp scheme", "tcp://10.0.0.5:23", Endpoint{Scheme: "tcp", Host: "10.0.0.5", Port: 23}},
		{"websocket", "ws://device.local:8080/feed", Endpoint{Scheme: "ws", Host: "device.local", Port: 8080, Path: "/feed"}},
		{"secure websocket default port", "wss://device.local/feed", Endpoint{Scheme: "wss", Host: "device.local", Port: 443, Path: "/feed"}},
		{"ipv6", "[::1]:7000", Endpoint{Scheme: "tcp", Host: "::1", Port: 7000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEndpoint(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEndpoint_Invalid(t *testing.T) {
	for _, raw := range []string{"localhost", "udp://host:1", "tcp://:80", "host:99999", "host:abc"} {
		_, err := ParseEndpoint(raw)
		assert.Error(t, err, raw)
	}
}

func TestEndpoint_Address(t *testing.T) {
	assert.Equal(t, "127.0.0.1:80", NewEndpoint("127.0.0.1", 80).Address())
	assert.Equal(t, "[::1]:80", NewEndpoint("::1", 80).Address())
	assert.Equal(t, "ws://h:1/p", Endpoint{Scheme: "ws", Host: "h", Port: 1, Path: "/p"}.String())
}
