package transport

import (
	"context"
	"net/http"

	"golang.org/x/net/websocket"
)

// DialWebsocket connects to a websocket endpoint carrying the byte stream
// in binary frames.
func DialWebsocket(ctx context.Context, url string) (*Conn, error) {
	config, err := websocket.NewConfig(url, "http://localhost/")
	if err != nil {
		return nil, err
	}
	conn, err := config.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	conn.PayloadType = websocket.BinaryFrame
	return NewConn(conn), nil
}

// WebsocketHandler serves each websocket connection as a Transport.
// The connection is closed when fn returns.
func WebsocketHandler(fn func(Transport)) http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		conn.PayloadType = websocket.BinaryFrame
		t := NewConn(conn)
		defer t.Close()
		fn(t)
	})
}
