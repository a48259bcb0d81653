package devices

import (
	"fmt"
	"strconv"

	"github.com/KevinKickass/OpenDO96/internal/types"
	"github.com/KevinKickass/OpenDO96/internal/usbdo96"
	"go.uber.org/zap"
)

// Composer merges profile channel labels with a card's own io_mapping.
type Composer struct {
	logger *zap.Logger
}

func NewComposer(logger *zap.Logger) *Composer {
	return &Composer{logger: logger}
}

// ComposeMapping builds the label table of one card. Card entries override
// profile entries with the same label.
func (c *Composer) ComposeMapping(profile *types.CardProfileDefinition, overrides map[string]int) (map[string]usbdo96.Channel, error) {
	mapping := make(map[string]usbdo96.Channel)

	if profile != nil {
		for _, label := range profile.Channels {
			if err := addLabel(mapping, label.Name, label.Channel); err != nil {
				return nil, fmt.Errorf("profile %s: %w", profile.Profile.ID, err)
			}
		}
	}

	for name, ch := range overrides {
		if prev, ok := mapping[name]; ok && int(prev) != ch {
			c.logger.Debug("Card mapping overrides profile label",
				zap.String("label", name),
				zap.Int("profile_channel", int(prev)),
				zap.Int("channel", ch))
		}
		delete(mapping, name)
		if err := addLabel(mapping, name, ch); err != nil {
			return nil, err
		}
	}

	return mapping, nil
}

func addLabel(mapping map[string]usbdo96.Channel, name string, ch int) error {
	if name == "" {
		return fmt.Errorf("empty label for channel %d", ch)
	}
	if _, err := strconv.Atoi(name); err == nil {
		return fmt.Errorf("label %q is numeric", name)
	}
	if !usbdo96.Channel(ch).Valid() {
		return fmt.Errorf("label %q: %w: %d", name, usbdo96.ErrOutOfRange, ch)
	}
	if _, exists := mapping[name]; exists {
		return fmt.Errorf("duplicate label %q", name)
	}
	mapping[name] = usbdo96.Channel(ch)
	return nil
}
