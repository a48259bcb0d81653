package serial

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenDO96/internal/usbdo96"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = time.Second
	DefaultFrameGap    = 10 * time.Millisecond
)

// Port is the part of serial.Port the client needs.
type Port interface {
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// OpenFunc opens a port by path.
type OpenFunc func(path string, mode *serial.Mode) (Port, error)

// Resolver turns a configured port identifier into a device path.
type Resolver interface {
	Resolve(identifier string) (string, error)
}

type Config struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	FrameGap    time.Duration `mapstructure:"frame_gap"`
}

func (c Config) withDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.FrameGap < 0 {
		c.FrameGap = 0
	} else if c.FrameGap == 0 {
		c.FrameGap = DefaultFrameGap
	}
	return c
}

// Transport opens USBDO96 sessions on a serial port. It implements
// usbdo96.Transport.
type Transport struct {
	config   Config
	resolver Resolver
	open     OpenFunc
	logger   *zap.Logger
}

type TransportOption func(*Transport)

func WithOpenFunc(open OpenFunc) TransportOption {
	return func(t *Transport) {
		t.open = open
	}
}

func WithResolver(r Resolver) TransportOption {
	return func(t *Transport) {
		t.resolver = r
	}
}

func WithLogger(logger *zap.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

func NewTransport(config Config, opts ...TransportOption) *Transport {
	t := &Transport{
		config: config.withDefaults(),
		open:   openSerial,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func openSerial(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

func (t *Transport) Config() Config {
	return t.config
}

// Open resolves the configured port and opens it 8N1.
func (t *Transport) Open(ctx context.Context) (usbdo96.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := t.config.Port
	if t.resolver != nil {
		resolved, err := t.resolver.Resolve(t.config.Port)
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	if path == "" {
		return nil, fmt.Errorf("%w: no port configured", usbdo96.ErrDeviceNotFound)
	}

	mode := &serial.Mode{
		BaudRate: t.config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := t.open(path, mode)
	if err != nil {
		return nil, &usbdo96.TransportError{Op: "open", Err: fmt.Errorf("open %s: %w", path, err)}
	}

	if err := port.SetReadTimeout(t.config.ReadTimeout); err != nil {
		port.Close()
		return nil, &usbdo96.TransportError{Op: "open", Err: fmt.Errorf("set read timeout: %w", err)}
	}
	if err := port.ResetInputBuffer(); err != nil {
		t.logger.Debug("Failed to flush input buffer", zap.String("port", path), zap.Error(err))
	}

	t.logger.Info("Serial port opened",
		zap.String("port", path),
		zap.Int("baud_rate", t.config.BaudRate))

	return newClient(path, port, t.config.FrameGap, t.logger), nil
}
