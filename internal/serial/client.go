package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/KevinKickass/OpenDO96/internal/usbdo96"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("serial port closed")

// Client is one open session on a USBDO96 port. It implements usbdo96.Conn.
type Client struct {
	path   string
	port   Port
	logger *zap.Logger

	mu        sync.Mutex
	connected bool

	// Command timing
	lastWrite time.Time
	frameGap  time.Duration
	sleep     func(time.Duration)
}

func newClient(path string, port Port, frameGap time.Duration, logger *zap.Logger) *Client {
	return &Client{
		path:      path,
		port:      port,
		logger:    logger,
		connected: true,
		frameGap:  frameGap,
		sleep:     time.Sleep,
	}
}

// Send writes one frame and waits out the inter-frame gap before the next
// write.
func (c *Client) Send(frame usbdo96.CommandFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrClosed
	}

	c.waitGap()

	n, err := c.port.Write(frame.Encode())
	c.lastWrite = time.Now()
	if err != nil {
		return fmt.Errorf("write %s to %s: %w", frame, c.path, err)
	}
	if n != usbdo96.FrameSize {
		return fmt.Errorf("write %s to %s: %w (%d of %d bytes)", frame, c.path, io.ErrShortWrite, n, usbdo96.FrameSize)
	}

	c.logger.Debug("Frame sent", zap.Stringer("frame", frame))
	return nil
}

func (c *Client) waitGap() {
	if c.lastWrite.IsZero() || c.frameGap == 0 {
		return
	}
	if elapsed := time.Since(c.lastWrite); elapsed < c.frameGap {
		c.sleep(c.frameGap - elapsed)
	}
}

// Close releases the port. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	err := c.port.Close()
	c.connected = false

	c.logger.Info("Serial port closed", zap.String("port", c.path))
	return err
}
