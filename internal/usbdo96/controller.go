package usbdo96

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Controller drives one USBDO96 card over one transport session. All
// operations are serialised; a commit is never interleaved with another
// operation on the same controller.
type Controller struct {
	transport    Transport
	logger       *zap.Logger
	resetOnClose bool

	mu    sync.Mutex
	conn  Conn
	state State
}

type Option func(*Controller)

// WithLogger sets the controller's logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithResetOnClose controls whether CloseSerial drives every output off
// before releasing the transport. Enabled by default.
func WithResetOnClose(reset bool) Option {
	return func(c *Controller) {
		c.resetOnClose = reset
	}
}

func NewController(transport Transport, opts ...Option) *Controller {
	c := &Controller{
		transport:    transport,
		logger:       zap.NewNop(),
		resetOnClose: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitSerial opens the session, configures ports B, C and D as outputs and
// latches all 96 channels off. Calling it on an open controller is a no-op
// and keeps the recorded channel state.
func (c *Controller) InitSerial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.logger.Debug("Serial session already open, init skipped")
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := c.transport.Open(ctx)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) || errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrAmbiguousDevice) {
			return err
		}
		return &TransportError{Op: "open", Err: err}
	}

	if err := sendAll(conn, initFrames()); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			c.logger.Warn("Failed to close transport after init failure", zap.Error(closeErr))
		}
		return err
	}

	c.conn = conn
	c.state = State{}

	c.logger.Info("Serial session initialised, all outputs off")
	return nil
}

// CloseSerial resets every output (unless disabled with WithResetOnClose)
// and releases the transport. A reset failure is reported but does not
// prevent the close.
func (c *Controller) CloseSerial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotOpen
	}

	var resetErr error
	if c.resetOnClose {
		if _, err := c.commit(ctx, AllChannels(false), true); err != nil {
			resetErr = err
			c.logger.Warn("Failed to reset outputs before close", zap.Error(err))
		}
	}

	var closeErr error
	if err := c.conn.Close(); err != nil {
		closeErr = &TransportError{Op: "close", Err: err}
	}

	c.conn = nil
	c.state = State{}

	c.logger.Info("Serial session closed", zap.Bool("reset_outputs", c.resetOnClose))
	return errors.Join(resetErr, closeErr)
}

// TurnOn sets the given channels on; every other channel keeps its value.
func (c *Controller) TurnOn(ctx context.Context, chs ...Channel) (Plan, error) {
	delta, err := DeltaOf(chs, nil)
	if err != nil {
		return Plan{}, err
	}
	return c.apply(ctx, delta, false)
}

// TurnOff sets the given channels off; every other channel keeps its value.
func (c *Controller) TurnOff(ctx context.Context, chs ...Channel) (Plan, error) {
	delta, err := DeltaOf(nil, chs)
	if err != nil {
		return Plan{}, err
	}
	return c.apply(ctx, delta, false)
}

// SetDOs turns on and off two disjoint channel sets in one operation.
func (c *Controller) SetDOs(ctx context.Context, on, off []Channel) (Plan, error) {
	delta, err := DeltaOf(on, off)
	if err != nil {
		return Plan{}, err
	}
	return c.apply(ctx, delta, false)
}

// ResetDOs drives all 96 channels off with a single latch edge covering all
// six groups, regardless of the recorded state.
func (c *Controller) ResetDOs(ctx context.Context) (Plan, error) {
	return c.apply(ctx, AllChannels(false), true)
}

// SetAllDOs drives all 96 channels on with a single latch edge.
func (c *Controller) SetAllDOs(ctx context.Context) (Plan, error) {
	return c.apply(ctx, AllChannels(true), true)
}

// State returns a snapshot of the recorded channel values.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Controller) apply(ctx context.Context, delta Delta, force bool) (Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return Plan{}, ErrNotOpen
	}
	return c.commit(ctx, delta, force)
}

// commit must be called with mu held and an open session. Once the first
// frame is written the sequence runs to completion or fails; ctx is only
// consulted before that.
func (c *Controller) commit(ctx context.Context, delta Delta, force bool) (Plan, error) {
	plan, err := sequence(c.state, delta, force)
	if err != nil {
		return Plan{}, err
	}

	if plan.Empty() {
		return plan, nil
	}

	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}

	if err := sendAll(c.conn, plan.Frames); err != nil {
		c.logger.Error("Commit failed, recorded state kept",
			zap.Int("clusters", len(plan.Clusters)),
			zap.Error(err))
		return Plan{}, err
	}

	c.state = plan.Next

	c.logger.Debug("Outputs committed",
		zap.Int("changed", len(plan.Changed)),
		zap.Int("clusters", len(plan.Clusters)),
		zap.Int("frames", len(plan.Frames)))

	return plan, nil
}

func sendAll(conn Conn, frames []CommandFrame) error {
	for i := range frames {
		if err := conn.Send(frames[i]); err != nil {
			frame := frames[i]
			return &TransportError{Op: "send", Frame: &frame, Err: err}
		}
	}
	return nil
}
