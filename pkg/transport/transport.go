// Package transport provides byte streams for the telemetry link.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang/glog"
)

// Transport is a byte stream with bounded reads.
type Transport interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
}

// Open opens a Transport from URL:
//
//	serial:///dev/ttyUSB0?baud=57600
//	tcp://host:port
//	ws://host:port/path, wss://host:port/path
func Open(ctx context.Context, rawURL string) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid transport URL: %w", err)
	}
	switch u.Scheme {
	case "serial":
		port := u.Path
		if port == "" {
			port = u.Opaque
		}
		var baudRate int
		if val := u.Query().Get("baud"); val != "" {
			if baudRate, err = strconv.Atoi(val); err != nil {
				return nil, fmt.Errorf("invalid baud rate %q: %w", val, err)
			}
		}
		return OpenSerial(port, baudRate)
	case "tcp":
		return DialTCP(ctx, u.Host)
	case "ws", "wss":
		return DialWebsocket(ctx, rawURL)
	default:
		return nil, fmt.Errorf("unknown transport URL scheme: %q", u.Scheme)
	}
}

// Serve accepts connections on tcp:// or ws:// URL and calls fn for each
// of them in its own goroutine. It returns when ctx is done.
func Serve(ctx context.Context, rawURL string, fn func(Transport)) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid listen URL: %w", err)
	}
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return err
	}
	glog.Infof("listen on %s", rawURL)
	switch u.Scheme {
	case "tcp":
		go func() {
			<-ctx.Done()
			ln.Close()
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			glog.V(2).Infof("accepted %s", conn.RemoteAddr())
			go func(t *Conn) {
				defer t.Close()
				fn(t)
			}(NewConn(conn))
		}
	case "ws":
		mux := http.NewServeMux()
		path := u.Path
		if path == "" {
			path = "/"
		}
		mux.Handle(path, WebsocketHandler(fn))
		server := &http.Server{Handler: mux}
		go func() {
			<-ctx.Done()
			server.Close()
		}()
		if err = server.Serve(ln); err == http.ErrServerClosed {
			return ctx.Err()
		}
		return err
	default:
		ln.Close()
		return fmt.Errorf("unsupported listen URL scheme: %q", u.Scheme)
	}
}
