package mockdevice

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_SendsLinesAndCloses(t *testing.T) {
	srv, err := Start(Config{Lines: []string{"Name1", "Name2"}, Raw: []byte("tail"), ChunkSize: 3})
	require.NoError(t, err)
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "Name1\nName2\ntail", string(data))
	assert.Equal(t, 1, srv.Connections())
}

func TestServer_KeepOpenUntilClose(t *testing.T) {
	srv, err := Start(Config{Lines: []string{"x"}, KeepOpen: true})
	require.NoError(t, err)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 2)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(buf))

	require.NoError(t, srv.Close())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(buf)
	assert.Error(t, err, "server close ends the connection")
}
