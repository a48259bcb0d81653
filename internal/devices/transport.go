package devices

import (
	"time"

	"github.com/KevinKickass/OpenDO96/internal/config"
	"github.com/KevinKickass/OpenDO96/internal/serial"
	"github.com/KevinKickass/OpenDO96/internal/types"
	"github.com/KevinKickass/OpenDO96/internal/usbdo96"
	"go.uber.org/zap"
)

// SerialTransportFactory opens cards on serial ports. Profile connection
// settings override the configured defaults.
func SerialTransportFactory(cfg config.SerialConfig, locator serial.Resolver, logger *zap.Logger) TransportFactory {
	return func(def types.CardDefinition, profile *types.CardProfileDefinition) (usbdo96.Transport, error) {
		sc := serial.Config{
			Port:        def.Port,
			BaudRate:    cfg.BaudRate,
			ReadTimeout: cfg.ReadTimeout,
			FrameGap:    cfg.FrameGap,
		}
		if profile != nil {
			conn := profile.Connection
			if conn.BaudRate > 0 {
				sc.BaudRate = conn.BaudRate
			}
			if conn.ReadTimeoutMs > 0 {
				sc.ReadTimeout = time.Duration(conn.ReadTimeoutMs) * time.Millisecond
			}
			if conn.FrameGapMs > 0 {
				sc.FrameGap = time.Duration(conn.FrameGapMs) * time.Millisecond
			}
		}

		return serial.NewTransport(sc,
			serial.WithResolver(locator),
			serial.WithLogger(logger.With(zap.String("card", def.Name)))), nil
	}
}
