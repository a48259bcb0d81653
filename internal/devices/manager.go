package devices

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/KevinKickass/OpenDO96/internal/types"
	"github.com/KevinKickass/OpenDO96/internal/usbdo96"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrCardNotFound = errors.New("card not found")
	ErrCardExists   = errors.New("card already loaded")
)

// TransportFactory creates the transport of a card. profile is nil when the
// card has none.
type TransportFactory func(def types.CardDefinition, profile *types.CardProfileDefinition) (usbdo96.Transport, error)

type Manager struct {
	loader    *ProfileLoader
	composer  *Composer
	factory   TransportFactory
	cards     map[uuid.UUID]*Card
	listeners map[int]Listener
	nextID    int
	mu        sync.RWMutex
	logger    *zap.Logger
}

func NewManager(searchPaths []string, factory TransportFactory, logger *zap.Logger) (*Manager, error) {
	loader, err := NewProfileLoader(searchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}

	return &Manager{
		loader:    loader,
		composer:  NewComposer(logger),
		factory:   factory,
		cards:     make(map[uuid.UUID]*Card),
		listeners: make(map[int]Listener),
		logger:    logger,
	}, nil
}

func (m *Manager) Loader() *ProfileLoader {
	return m.loader
}

// LoadCard registers a card. With AutoInit the session is opened right
// away; an init failure is logged and published but the card stays loaded.
func (m *Manager) LoadCard(ctx context.Context, def types.CardDefinition) (*Card, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("card name is required")
	}
	if _, exists := m.GetCardByName(def.Name); exists {
		return nil, fmt.Errorf("%w: %s", ErrCardExists, def.Name)
	}

	var profile *types.CardProfileDefinition
	if def.Profile != "" {
		p, err := m.loader.Load(def.Profile)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile %s: %w", def.Profile, err)
		}
		profile = p
	}

	mapping, err := m.composer.ComposeMapping(profile, def.IOMapping)
	if err != nil {
		return nil, fmt.Errorf("invalid io mapping for %s: %w", def.Name, err)
	}

	transport, err := m.factory(def, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	card := newCard(def, profile, mapping, transport, m.publish, m.logger)

	m.mu.Lock()
	for _, existing := range m.cards {
		if existing.Name == def.Name {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrCardExists, def.Name)
		}
	}
	m.cards[card.ID] = card
	m.mu.Unlock()

	m.logger.Info("Card loaded",
		zap.String("name", def.Name),
		zap.String("port", def.Port),
		zap.String("profile", def.Profile),
		zap.Int("labels", len(mapping)))

	if def.AutoInit {
		if err := card.Init(ctx); err != nil {
			m.logger.Warn("Card auto-init failed", zap.String("name", def.Name), zap.Error(err))
		}
	}

	return card, nil
}

// GetCard returns card by ID
func (m *Manager) GetCard(id uuid.UUID) (*Card, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	card, exists := m.cards[id]
	return card, exists
}

// GetCardByName returns card by name
func (m *Manager) GetCardByName(name string) (*Card, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, card := range m.cards {
		if card.Name == name {
			return card, true
		}
	}

	return nil, false
}

// ListCards returns all cards sorted by name
func (m *Manager) ListCards() []*Card {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cards := make([]*Card, 0, len(m.cards))
	for _, card := range m.cards {
		cards = append(cards, card)
	}
	sort.Slice(cards, func(i, j int) bool {
		return cards[i].Name < cards[j].Name
	})

	return cards
}

// RemoveCard closes the card if it is open and unregisters it. The card is
// removed even if closing fails.
func (m *Manager) RemoveCard(ctx context.Context, name string) error {
	card, ok := m.GetCardByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCardNotFound, name)
	}

	var closeErr error
	if card.IsOpen() {
		closeErr = card.Close(ctx)
	}

	m.mu.Lock()
	delete(m.cards, card.ID)
	m.mu.Unlock()

	m.logger.Info("Card removed", zap.String("name", name))
	return closeErr
}

// StopAll closes every open card, each with its own reset-on-close policy.
func (m *Manager) StopAll(ctx context.Context) error {
	var errs []error
	for _, card := range m.ListCards() {
		if !card.IsOpen() {
			continue
		}
		if err := card.Close(ctx); err != nil {
			m.logger.Error("Failed to close card",
				zap.String("card", card.Name),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", card.Name, err))
		}
	}

	return errors.Join(errs...)
}

// Subscribe registers a listener for card events and returns a function
// that removes it.
func (m *Manager) Subscribe(l Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) publish(event ChangeEvent) {
	m.mu.RLock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}
