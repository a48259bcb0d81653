package devices

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenDO96/internal/types"
	"github.com/KevinKickass/OpenDO96/internal/usbdo96"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Card is one named USBDO96 instance and the controller that drives it.
type Card struct {
	ID           uuid.UUID
	Name         string
	Port         string
	ProfileName  string
	Profile      *types.CardProfileDefinition
	IOMapping    map[string]usbdo96.Channel
	ResetOnClose bool

	controller *usbdo96.Controller
	publish    Listener
	logger     *zap.Logger

	mu        sync.RWMutex
	lastError string
	updatedAt time.Time
}

func newCard(def types.CardDefinition, profile *types.CardProfileDefinition, mapping map[string]usbdo96.Channel, transport usbdo96.Transport, publish Listener, logger *zap.Logger) *Card {
	card := &Card{
		ID:           uuid.New(),
		Name:         def.Name,
		Port:         def.Port,
		ProfileName:  def.Profile,
		Profile:      profile,
		IOMapping:    mapping,
		ResetOnClose: def.ResetOnClose,
		publish:      publish,
		logger:       logger.With(zap.String("card", def.Name)),
		updatedAt:    time.Now(),
	}
	card.controller = usbdo96.NewController(transport,
		usbdo96.WithLogger(card.logger),
		usbdo96.WithResetOnClose(def.ResetOnClose))
	return card
}

// Resolve turns channel numbers and labels into channels. Unknown labels
// and numbers outside 1..96 fail with ErrOutOfRange.
func (c *Card) Resolve(refs []types.ChannelRef) ([]usbdo96.Channel, error) {
	chs := make([]usbdo96.Channel, 0, len(refs))
	for _, ref := range refs {
		if n, ok := ref.Number(); ok {
			ch := usbdo96.Channel(n)
			if !ch.Valid() {
				return nil, fmt.Errorf("%w: %d", usbdo96.ErrOutOfRange, n)
			}
			chs = append(chs, ch)
			continue
		}
		ch, ok := c.IOMapping[string(ref)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown label %q", usbdo96.ErrOutOfRange, string(ref))
		}
		chs = append(chs, ch)
	}
	return chs, nil
}

func (c *Card) Init(ctx context.Context) error {
	wasOpen := c.controller.IsOpen()
	err := c.controller.InitSerial(ctx)
	if err == nil && wasOpen {
		return nil
	}
	c.finish("init", EventCardOpened, nil, nil, usbdo96.Plan{}, err)
	return err
}

func (c *Card) Close(ctx context.Context) error {
	err := c.controller.CloseSerial(ctx)
	if errors.Is(err, usbdo96.ErrNotOpen) {
		return err
	}
	// The transport is released even when the reset failed.
	c.finish("close", EventCardClosed, nil, nil, usbdo96.Plan{}, err)
	return err
}

func (c *Card) TurnOn(ctx context.Context, refs ...types.ChannelRef) (usbdo96.Plan, error) {
	chs, err := c.Resolve(refs)
	if err != nil {
		c.finish("turn_on", EventOutputsChanged, nil, nil, usbdo96.Plan{}, err)
		return usbdo96.Plan{}, err
	}
	plan, err := c.controller.TurnOn(ctx, chs...)
	c.finish("turn_on", EventOutputsChanged, chs, nil, plan, err)
	return plan, err
}

func (c *Card) TurnOff(ctx context.Context, refs ...types.ChannelRef) (usbdo96.Plan, error) {
	chs, err := c.Resolve(refs)
	if err != nil {
		c.finish("turn_off", EventOutputsChanged, nil, nil, usbdo96.Plan{}, err)
		return usbdo96.Plan{}, err
	}
	plan, err := c.controller.TurnOff(ctx, chs...)
	c.finish("turn_off", EventOutputsChanged, nil, chs, plan, err)
	return plan, err
}

func (c *Card) Set(ctx context.Context, on, off []types.ChannelRef) (usbdo96.Plan, error) {
	onChs, offChs, err := c.resolvePair(on, off)
	if err != nil {
		c.finish("set", EventOutputsChanged, nil, nil, usbdo96.Plan{}, err)
		return usbdo96.Plan{}, err
	}
	plan, err := c.controller.SetDOs(ctx, onChs, offChs)
	c.finish("set", EventOutputsChanged, onChs, offChs, plan, err)
	return plan, err
}

func (c *Card) resolvePair(on, off []types.ChannelRef) ([]usbdo96.Channel, []usbdo96.Channel, error) {
	onChs, err := c.Resolve(on)
	if err != nil {
		return nil, nil, err
	}
	offChs, err := c.Resolve(off)
	if err != nil {
		return nil, nil, err
	}
	return onChs, offChs, nil
}

func (c *Card) Reset(ctx context.Context) (usbdo96.Plan, error) {
	plan, err := c.controller.ResetDOs(ctx)
	c.finish("reset", EventOutputsChanged, nil, nil, plan, err)
	return plan, err
}

func (c *Card) AllOn(ctx context.Context) (usbdo96.Plan, error) {
	plan, err := c.controller.SetAllDOs(ctx)
	c.finish("all_on", EventOutputsChanged, nil, nil, plan, err)
	return plan, err
}

func (c *Card) State() usbdo96.State {
	return c.controller.State()
}

func (c *Card) IsOpen() bool {
	return c.controller.IsOpen()
}

// Labels returns the labels of ch, sorted.
func (c *Card) Labels(ch usbdo96.Channel) []string {
	var labels []string
	for name, mapped := range c.IOMapping {
		if mapped == ch {
			labels = append(labels, name)
		}
	}
	sort.Strings(labels)
	return labels
}

func (c *Card) Info() types.CardInfo {
	c.mu.RLock()
	lastError, updatedAt := c.lastError, c.updatedAt
	c.mu.RUnlock()

	mapping := make(map[string]int, len(c.IOMapping))
	for name, ch := range c.IOMapping {
		mapping[name] = int(ch)
	}

	return types.CardInfo{
		ID:           c.ID,
		Name:         c.Name,
		Port:         c.Port,
		Profile:      c.ProfileName,
		Open:         c.IsOpen(),
		ResetOnClose: c.ResetOnClose,
		OnChannels:   channelInts(c.State().OnChannels()),
		IOMapping:    mapping,
		LastError:    lastError,
		UpdatedAt:    updatedAt,
	}
}

// finish records the outcome of an operation and publishes it. An error
// turns the event into a card_error, except for close: the session is gone
// either way, so watchers get card_closed carrying the error.
func (c *Card) finish(op string, typ EventType, on, off []usbdo96.Channel, plan usbdo96.Plan, err error) {
	now := time.Now()

	event := ChangeEvent{
		Type:      typ,
		CardID:    c.ID,
		Card:      c.Name,
		Operation: op,
		On:        channelInts(on),
		Off:       channelInts(off),
		Changed:   plan.Changed,
		Frames:    len(plan.Frames),
		Clusters:  len(plan.Clusters),
		State:     channelInts(c.State().OnChannels()),
		Timestamp: now,
	}

	c.mu.Lock()
	if err != nil {
		c.lastError = err.Error()
		if typ != EventCardClosed {
			event.Type = EventCardError
		}
		event.Error = err.Error()
	} else {
		c.lastError = ""
	}
	c.updatedAt = now
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Card operation failed", zap.String("operation", op), zap.Error(err))
	} else if len(plan.Changed) > 0 {
		c.logger.Info("Outputs changed",
			zap.String("operation", op),
			zap.String("changed", formatChanges(plan.Changed)))
	}

	if c.publish != nil {
		c.publish(event)
	}
}

func channelInts(chs []usbdo96.Channel) []int {
	if chs == nil {
		return nil
	}
	out := make([]int, len(chs))
	for i, ch := range chs {
		out[i] = int(ch)
	}
	return out
}

func formatChanges(changes []usbdo96.Change) string {
	parts := make([]string, len(changes))
	for i, ch := range changes {
		state := "off"
		if ch.On {
			state = "on"
		}
		parts[i] = fmt.Sprintf("%s=%s", ch.Channel, state)
	}
	return strings.Join(parts, " ")
}
