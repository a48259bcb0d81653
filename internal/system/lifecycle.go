package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenDO96/internal/api/grpcapi"
	"github.com/KevinKickass/OpenDO96/internal/api/rest"
	"github.com/KevinKickass/OpenDO96/internal/api/websocket"
	"github.com/KevinKickass/OpenDO96/internal/auth"
	"github.com/KevinKickass/OpenDO96/internal/config"
	"github.com/KevinKickass/OpenDO96/internal/devices"
	"github.com/KevinKickass/OpenDO96/internal/interfaces"
	"github.com/KevinKickass/OpenDO96/internal/serial"
	"github.com/KevinKickass/OpenDO96/internal/storage"
	"github.com/KevinKickass/OpenDO96/internal/streaming"
	"github.com/KevinKickass/OpenDO96/internal/types"
	"go.uber.org/zap"
)

type LifecycleManager struct {
	config      *config.Config
	storage     *storage.PostgresClient // nil when the database is disabled
	authService *auth.AuthService
	cardManager *devices.Manager
	wsHub       *websocket.Hub
	streamer    *streaming.EventStreamer
	journal     *JournalRecorder
	logger      *zap.Logger

	restServer *rest.Server
	grpcServer *grpcapi.Server

	hubCancel    context.CancelFunc
	unsubscribes []func()

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires every component. store may be nil.
func NewLifecycleManager(store *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	var authStore auth.Store = noDatabaseStore{}
	if store != nil {
		authStore = store
	}
	authService := auth.NewAuthService(authStore, cfg.Auth, logger.Named("auth"))

	locator := serial.NewLocator(cfg.Serial.USBVID, cfg.Serial.USBPID)
	factory := devices.SerialTransportFactory(cfg.Serial, locator, logger.Named("serial"))

	cardManager, err := devices.NewManager(cfg.Profiles.SearchPaths, factory, logger.Named("cards"))
	if err != nil {
		return nil, fmt.Errorf("failed to create card manager: %w", err)
	}

	lm := &LifecycleManager{
		config:       cfg,
		storage:      store,
		authService:  authService,
		cardManager:  cardManager,
		wsHub:        websocket.NewHub(logger.Named("ws"), authService),
		streamer:     streaming.NewEventStreamer(),
		logger:       logger,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}
	if store != nil {
		lm.journal = NewJournalRecorder(store, logger.Named("journal"))
	}

	return lm, nil
}

// Start brings the system up. Cards from the config file are loaded first;
// database registrations with the same name are skipped.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenDO96")
	lm.setState(StateInitializing)

	if !lm.config.Auth.IsProductionReady() {
		lm.logger.Warn("JWT secret is the development default or too short; set it before production use",
			zap.String("env", lm.config.Auth.JWTSecretEnv))
	}

	if lm.storage != nil {
		if err := lm.storage.EnsureSchema(ctx); err != nil {
			lm.setError(err)
			return err
		}
		if err := lm.authService.EnsureAdmin(ctx, lm.config.Auth.AdminUser, lm.config.Auth.AdminPassword()); err != nil {
			lm.logger.Warn("Failed to ensure admin user", zap.Error(err))
		}
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	go lm.wsHub.Run(hubCtx)

	lm.unsubscribes = append(lm.unsubscribes,
		lm.cardManager.Subscribe(lm.wsHub.Listener()),
		lm.cardManager.Subscribe(lm.streamer.Listener()))
	if lm.journal != nil {
		go lm.journal.Run()
		lm.unsubscribes = append(lm.unsubscribes, lm.cardManager.Subscribe(lm.journal.Listener()))
	}

	lm.loadCards(ctx)

	lm.grpcServer = grpcapi.NewServer(lm.config.Server.GRPCPort,
		grpcapi.NewOutputService(lm.cardManager, lm.streamer, lm.logger.Named("grpc")),
		lm.authService, lm.logger.Named("grpc"))
	if err := lm.grpcServer.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("rest"), lm.wsHub, lm.authService)
	if err := lm.restServer.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("cards", len(lm.cardManager.ListCards())),
		zap.Bool("database", lm.storage != nil))

	return nil
}

func (lm *LifecycleManager) loadCards(ctx context.Context) {
	defs := make([]types.CardDefinition, 0, len(lm.config.Cards))
	for _, c := range lm.config.Cards {
		defs = append(defs, types.CardDefinition{
			Name:         c.Name,
			Port:         c.Port,
			Profile:      c.Profile,
			IOMapping:    c.IOMapping,
			ResetOnClose: c.ResetOnCloseOrDefault(),
			AutoInit:     c.AutoInit,
		})
	}

	if lm.storage != nil {
		stored, err := lm.storage.LoadCards(ctx)
		if err != nil {
			lm.logger.Warn("Failed to load cards from database", zap.Error(err))
		}
		defs = append(defs, stored...)
	}

	lm.logger.Info("Loading cards", zap.Int("count", len(defs)))

	for _, def := range defs {
		if _, err := lm.cardManager.LoadCard(ctx, def); err != nil {
			if errors.Is(err, devices.ErrCardExists) {
				lm.logger.Warn("Card defined twice, keeping the config file entry", zap.String("card", def.Name))
				continue
			}
			lm.logger.Error("Failed to load card",
				zap.String("card", def.Name),
				zap.Error(err))
		}
	}
}

// Shutdown stops accepting requests, closes every card with its
// reset-on-close policy, then stops the event consumers.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	if lm.restServer != nil {
		restCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := lm.restServer.Shutdown(restCtx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
		cancel()
	}

	if err := lm.cardManager.StopAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing cards failed: %w", err))
	}

	// Watch streams only end when their subscription does.
	lm.streamer.CloseAll()
	if lm.grpcServer != nil {
		lm.logger.Info("Stopping gRPC server")
		lm.grpcServer.Stop(ctx)
	}

	for _, unsubscribe := range lm.unsubscribes {
		unsubscribe()
	}
	lm.unsubscribes = nil

	if lm.journal != nil {
		if err := lm.journal.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("journal flush failed: %w", err))
		}
	}

	if lm.hubCancel != nil {
		lm.hubCancel()
	}

	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

// Done is closed once Shutdown finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	if state != lm.currentState {
		if err := ValidateTransition(lm.currentState, state); err != nil {
			lm.logger.Warn("Unexpected state transition", zap.Error(err))
		}
	}
	lm.currentState = state
	if state != StateError {
		lm.lastError = ""
	}
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))

	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.stateMu.RLock()
	status := SystemStatus{
		State:     lm.currentState.String(),
		Timestamp: time.Now().Unix(),
		Error:     lm.lastError,
	}
	lm.stateMu.RUnlock()

	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, status))
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	cards := lm.cardManager.ListCards()
	open := 0
	for _, c := range cards {
		if c.IsOpen() {
			open++
		}
	}

	return interfaces.SystemStatus{
		State:       lm.State().String(),
		CardCount:   len(cards),
		OpenCards:   open,
		Database:    lm.storage != nil,
		WSClients:   lm.wsHub.GetClientCount(),
		GRPCWatches: lm.streamer.SubscriberCount(),
	}
}

func (lm *LifecycleManager) CardManager() *devices.Manager {
	return lm.cardManager
}

// CardStore returns nil when the database is disabled.
func (lm *LifecycleManager) CardStore() interfaces.CardStore {
	if lm.storage == nil {
		return nil
	}
	return lm.storage
}

func (lm *LifecycleManager) AuthService() *auth.AuthService {
	return lm.authService
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)
