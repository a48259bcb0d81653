package serial

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenDO96/internal/usbdo96"
	"go.bug.st/serial"
	"go.uber.org/zap/zaptest"
)

type fakePort struct {
	written     bytes.Buffer
	writeN      int
	writeErr    error
	readTimeout time.Duration
	flushed     bool
	closes      int
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.writeN > 0 {
		p.written.Write(b[:p.writeN])
		return p.writeN, nil
	}
	return p.written.Write(b)
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.readTimeout = t
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.flushed = true
	return nil
}

func (p *fakePort) Close() error {
	p.closes++
	return nil
}

type staticResolver string

func (r staticResolver) Resolve(string) (string, error) {
	return string(r), nil
}

func TestTransportOpen(t *testing.T) {
	port := &fakePort{}
	var gotPath string
	var gotMode *serial.Mode

	tr := NewTransport(Config{Port: "/dev/ttyUSB3"},
		WithLogger(zaptest.NewLogger(t)),
		WithOpenFunc(func(path string, mode *serial.Mode) (Port, error) {
			gotPath, gotMode = path, mode
			return port, nil
		}))

	conn, err := tr.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if gotPath != "/dev/ttyUSB3" {
		t.Errorf("path = %q", gotPath)
	}
	if gotMode.BaudRate != DefaultBaudRate || gotMode.DataBits != 8 ||
		gotMode.Parity != serial.NoParity || gotMode.StopBits != serial.OneStopBit {
		t.Errorf("mode = %+v, want 9600 8N1", gotMode)
	}
	if port.readTimeout != DefaultReadTimeout {
		t.Errorf("read timeout = %v", port.readTimeout)
	}
	if !port.flushed {
		t.Error("input buffer not flushed on open")
	}
}

func TestTransportOpenUsesResolver(t *testing.T) {
	var gotPath string
	tr := NewTransport(Config{Port: "A50285BI"},
		WithResolver(staticResolver("/dev/ttyUSB0")),
		WithOpenFunc(func(path string, _ *serial.Mode) (Port, error) {
			gotPath = path
			return &fakePort{}, nil
		}))

	if _, err := tr.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/dev/ttyUSB0" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestTransportOpenFailure(t *testing.T) {
	busy := errors.New("port busy")
	tr := NewTransport(Config{Port: "/dev/ttyUSB0"},
		WithOpenFunc(func(string, *serial.Mode) (Port, error) {
			return nil, busy
		}))

	_, err := tr.Open(context.Background())
	if !errors.Is(err, usbdo96.ErrTransport) || !errors.Is(err, busy) {
		t.Fatalf("got %v, want transport error wrapping cause", err)
	}
}

func TestTransportOpenWithoutPort(t *testing.T) {
	tr := NewTransport(Config{})

	if _, err := tr.Open(context.Background()); !errors.Is(err, usbdo96.ErrDeviceNotFound) {
		t.Fatalf("got %v, want ErrDeviceNotFound", err)
	}
}

func TestClientSendEncodesFrames(t *testing.T) {
	port := &fakePort{}
	c := newClient("/dev/null", port, 0, zaptest.NewLogger(t))

	frames := []usbdo96.CommandFrame{
		usbdo96.EncodeConfigure(usbdo96.PortB),
		usbdo96.EncodeWrite(usbdo96.PortD, 0x80),
	}
	for _, f := range frames {
		if err := c.Send(f); err != nil {
			t.Fatal(err)
		}
	}

	want := []byte{0x42, 0x00, 0x4A, 0x80}
	if !bytes.Equal(port.written.Bytes(), want) {
		t.Errorf("wrote % X, want % X", port.written.Bytes(), want)
	}
}

func TestClientFrameGap(t *testing.T) {
	c := newClient("/dev/null", &fakePort{}, 10*time.Millisecond, zaptest.NewLogger(t))

	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	for i := 0; i < 3; i++ {
		if err := c.Send(usbdo96.EncodeWrite(usbdo96.PortB, 0x01)); err != nil {
			t.Fatal(err)
		}
	}

	if len(slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(slept))
	}
	for _, d := range slept {
		if d <= 0 || d > 10*time.Millisecond {
			t.Errorf("gap %v outside (0, 10ms]", d)
		}
	}
}

func TestClientShortWrite(t *testing.T) {
	c := newClient("/dev/ttyUSB3", &fakePort{writeN: 1}, 0, zaptest.NewLogger(t))

	err := c.Send(usbdo96.EncodeWrite(usbdo96.PortC, 0x01))
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("got %v, want io.ErrShortWrite", err)
	}
	if !strings.Contains(err.Error(), "/dev/ttyUSB3") {
		t.Errorf("error %q does not name the port", err)
	}
}

func TestClientClose(t *testing.T) {
	port := &fakePort{}
	c := newClient("/dev/null", port, 0, zaptest.NewLogger(t))

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if port.closes != 1 {
		t.Errorf("closes = %d, want 1", port.closes)
	}
	if err := c.Send(usbdo96.EncodeWrite(usbdo96.PortB, 0)); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close: got %v", err)
	}
}

func TestControllerOverSerial(t *testing.T) {
	port := &fakePort{}
	tr := NewTransport(Config{Port: "/dev/ttyUSB0", FrameGap: -1},
		WithOpenFunc(func(string, *serial.Mode) (Port, error) { return port, nil }))

	ctrl := usbdo96.NewController(tr, usbdo96.WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	if err := ctrl.InitSerial(ctx); err != nil {
		t.Fatal(err)
	}
	port.written.Reset()

	if _, err := ctrl.TurnOn(ctx, 96); err != nil {
		t.Fatal(err)
	}
	// DO96: group 6, sub-port D, bit 7.
	want := []byte{0x46, 0x00, 0x4A, 0x80, 0x43, 0x01, 0x43, 0x41}
	if !bytes.Equal(port.written.Bytes(), want) {
		t.Errorf("wrote % X, want % X", port.written.Bytes(), want)
	}

	if err := ctrl.CloseSerial(ctx); err != nil {
		t.Fatal(err)
	}
	if port.closes != 1 {
		t.Errorf("closes = %d", port.closes)
	}
}
