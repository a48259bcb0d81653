package usbdo96

import (
	"context"
	"errors"
	"testing"
)

var errUnplugged = errors.New("device unplugged")

// fakeTransport records every frame sent through its sessions. failAt makes
// the n-th send (1-based, counted across sessions) fail.
type fakeTransport struct {
	frames   []CommandFrame
	opens    int
	closes   int
	failAt   int
	sends    int
	openErr  error
	closeErr error
}

type fakeConn struct {
	t      *fakeTransport
	closed bool
}

func (f *fakeTransport) Open(ctx context.Context) (Conn, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opens++
	return &fakeConn{t: f}, nil
}

func (c *fakeConn) Send(frame CommandFrame) error {
	if c.closed {
		return errors.New("send on closed conn")
	}
	c.t.sends++
	if c.t.failAt > 0 && c.t.sends == c.t.failAt {
		return errUnplugged
	}
	c.t.frames = append(c.t.frames, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	c.t.closes++
	return c.t.closeErr
}

func (f *fakeTransport) reset() {
	f.frames = nil
}

func assertFrames(t testing.TB, got, want []CommandFrame) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("got %d frames %v, want %d frames %v", len(got), got, len(want), want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("frame [%d]: got %s want %s", i, got[i], want[i])
		}
	}
}

func w(p Port, v byte) CommandFrame {
	return EncodeWrite(p, v)
}
