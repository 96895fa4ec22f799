package transport

import (
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPipe(t *testing.T) {
	a, b := NewPipe()
	require.NoError(t, a.SetReadTimeout(20*time.Millisecond))
	require.NoError(t, b.SetReadTimeout(20*time.Millisecond))

	buf := make([]byte, 4)
	n, err := a.Read(buf)
	require.Equal(t, 0, n)
	require.True(t, os.IsTimeout(err))

	// writes never block, even without reader.
	for i := 0; i < 100; i++ {
		_, err = a.Write([]byte{byte(i), byte(i + 1)})
		require.NoError(t, err)
	}
	received := make([]byte, 0, 200)
	for len(received) < 200 {
		n, err = b.Read(buf)
		require.NoError(t, err)
		received = append(received, buf[:n]...)
	}
	require.Equal(t, byte(99), received[198])

	_, err = b.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, b.Close())
	n, err = a.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, buf[:n])
	_, err = a.Read(buf)
	require.Equal(t, io.EOF, err)
	_, err = a.Write([]byte{1})
	require.Equal(t, io.ErrClosedPipe, err)
}

func TestPipeReadWakeUp(t *testing.T) {
	a, b := NewPipe()
	resultCh := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 8)
		n, _ := b.Read(buf)
		resultCh <- buf[:n]
	}()
	time.Sleep(10 * time.Millisecond)
	_, err := a.Write([]byte{0x3c})
	require.NoError(t, err)
	select {
	case data := <-resultCh:
		require.Equal(t, []byte{0x3c}, data)
	case <-time.After(time.Second):
		t.Fatal("read not woken up")
	}
}

func TestConnReadTimeout(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c2.Close()
	conn := NewConn(c1)
	defer conn.Close()
	require.NoError(t, conn.SetReadTimeout(10*time.Millisecond))
	_, err := conn.Read(make([]byte, 1))
	require.True(t, os.IsTimeout(err))

	go c2.Write([]byte{7})
	buf := make([]byte, 1)
	require.NoError(t, conn.SetReadTimeout(time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte(7), buf[0])
}
