package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenDO96/internal/devices"
	"github.com/KevinKickass/OpenDO96/internal/storage"
	"github.com/KevinKickass/OpenDO96/internal/types"
	"github.com/KevinKickass/OpenDO96/internal/usbdo96"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChannelsRequest selects outputs by number or label.
type ChannelsRequest struct {
	Channels []types.ChannelRef `json:"channels"`
}

type SetRequest struct {
	On  []types.ChannelRef `json:"on"`
	Off []types.ChannelRef `json:"off"`
}

// OperationResponse summarises a committed plan.
type OperationResponse struct {
	Card       string           `json:"card"`
	Operation  string           `json:"operation"`
	Changed    []usbdo96.Change `json:"changed"`
	Frames     int              `json:"frames"`
	Clusters   int              `json:"clusters"`
	OnChannels []int            `json:"on_channels"`
}

type StateResponse struct {
	Card       string           `json:"card"`
	Open       bool             `json:"open"`
	OnChannels []int            `json:"on_channels"`
	Labels     map[int][]string `json:"labels,omitempty"`
	LastC      byte             `json:"last_c"`
	LastD      byte             `json:"last_d"`
}

func (s *Server) lookupCard(c *gin.Context) (*devices.Card, bool) {
	name := c.Param("name")
	card, ok := s.lm.CardManager().GetCardByName(name)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("NOT_FOUND", "card not found", gin.H{"card": name}))
		return nil, false
	}
	return card, true
}

// GET /api/v1/cards
func (s *Server) listCards(c *gin.Context) {
	cards := s.lm.CardManager().ListCards()

	response := make([]types.CardInfo, 0, len(cards))
	for _, card := range cards {
		response = append(response, card.Info())
	}

	c.JSON(http.StatusOK, gin.H{
		"cards": response,
		"count": len(response),
	})
}

// GET /api/v1/cards/:name
func (s *Server) getCard(c *gin.Context) {
	card, ok := s.lookupCard(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, card.Info())
}

// POST /api/v1/cards
func (s *Server) createCard(c *gin.Context) {
	var def types.CardDefinition
	if !bindJSON(c, &def) {
		return
	}

	if _, exists := s.lm.CardManager().GetCardByName(def.Name); exists {
		writeError(c, devices.ErrCardExists)
		return
	}

	// Save to database first (upsert) so the card survives a restart.
	persisted := false
	if store := s.lm.CardStore(); store != nil {
		if _, err := store.SaveCard(c.Request.Context(), def); err != nil {
			s.logger.Error("Failed to save card", zap.String("card", def.Name), zap.Error(err))
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse("CARD_500", "Failed to save card", err.Error()))
			return
		}
		persisted = true
	}

	card, err := s.lm.CardManager().LoadCard(c.Request.Context(), def)
	if err != nil {
		if persisted {
			if delErr := s.lm.CardStore().DeleteCard(c.Request.Context(), def.Name); delErr != nil {
				s.logger.Warn("Failed to roll back card registration", zap.String("card", def.Name), zap.Error(delErr))
			}
		}
		if errors.Is(err, devices.ErrCardExists) {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("CARD_400", "Failed to load card", err.Error()))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"card":      card.Info(),
		"persisted": persisted,
	})
}

// DELETE /api/v1/cards/:name
func (s *Server) deleteCard(c *gin.Context) {
	name := c.Param("name")

	closeErr := s.lm.CardManager().RemoveCard(c.Request.Context(), name)
	if errors.Is(closeErr, devices.ErrCardNotFound) {
		writeError(c, closeErr)
		return
	}
	if closeErr != nil {
		s.logger.Warn("Card removed but closing failed", zap.String("card", name), zap.Error(closeErr))
	}

	if store := s.lm.CardStore(); store != nil {
		// Cards declared in the config file have no row.
		if err := store.DeleteCard(c.Request.Context(), name); err != nil && !errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse("CARD_500", "Failed to delete card", err.Error()))
			return
		}
	}

	response := gin.H{"message": "card removed"}
	if closeErr != nil {
		response["close_error"] = closeErr.Error()
	}
	c.JSON(http.StatusOK, response)
}

// GET /api/v1/cards/:name/state
func (s *Server) getCardState(c *gin.Context) {
	card, ok := s.lookupCard(c)
	if !ok {
		return
	}

	state := card.State()
	on := state.OnChannels()
	response := StateResponse{
		Card:       card.Name,
		Open:       card.IsOpen(),
		OnChannels: make([]int, 0, len(on)),
		LastC:      state.LastC(),
		LastD:      state.LastD(),
	}
	for _, ch := range on {
		response.OnChannels = append(response.OnChannels, int(ch))
		if labels := card.Labels(ch); len(labels) > 0 {
			if response.Labels == nil {
				response.Labels = make(map[int][]string)
			}
			response.Labels[int(ch)] = labels
		}
	}

	c.JSON(http.StatusOK, response)
}

// GET /api/v1/cards/:name/journal?limit=N
func (s *Server) getCardJournal(c *gin.Context) {
	card, ok := s.lookupCard(c)
	if !ok {
		return
	}

	store := s.lm.CardStore()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("DATABASE_DISABLED", "journal requires the database", nil))
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("JOURNAL_400", "limit must be a positive integer", raw))
			return
		}
		limit = n
	}

	entries, err := store.ListJournal(c.Request.Context(), card.Name, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("JOURNAL_500", "Failed to read journal", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"card":    card.Name,
		"entries": entries,
		"count":   len(entries),
	})
}

// POST /api/v1/cards/:name/init
func (s *Server) initCard(c *gin.Context) {
	card, ok := s.lookupCard(c)
	if !ok {
		return
	}
	if err := card.Init(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, card.Info())
}

// POST /api/v1/cards/:name/close
func (s *Server) closeCard(c *gin.Context) {
	card, ok := s.lookupCard(c)
	if !ok {
		return
	}
	if err := card.Close(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, card.Info())
}

// POST /api/v1/cards/:name/on
func (s *Server) turnOn(c *gin.Context) {
	s.switchChannels(c, "turn_on", (*devices.Card).TurnOn)
}

// POST /api/v1/cards/:name/off
func (s *Server) turnOff(c *gin.Context) {
	s.switchChannels(c, "turn_off", (*devices.Card).TurnOff)
}

func (s *Server) switchChannels(c *gin.Context, op string, apply func(*devices.Card, context.Context, ...types.ChannelRef) (usbdo96.Plan, error)) {
	card, ok := s.lookupCard(c)
	if !ok {
		return
	}

	var req ChannelsRequest
	if !bindJSON(c, &req) {
		return
	}

	plan, err := apply(card, c.Request.Context(), req.Channels...)
	s.respondPlan(c, card, op, plan, err)
}

// POST /api/v1/cards/:name/set
func (s *Server) setOutputs(c *gin.Context) {
	card, ok := s.lookupCard(c)
	if !ok {
		return
	}

	var req SetRequest
	if !bindJSON(c, &req) {
		return
	}

	plan, err := card.Set(c.Request.Context(), req.On, req.Off)
	s.respondPlan(c, card, "set", plan, err)
}

// POST /api/v1/cards/:name/reset
func (s *Server) resetOutputs(c *gin.Context) {
	card, ok := s.lookupCard(c)
	if !ok {
		return
	}
	plan, err := card.Reset(c.Request.Context())
	s.respondPlan(c, card, "reset", plan, err)
}

// POST /api/v1/cards/:name/all-on
func (s *Server) allOn(c *gin.Context) {
	card, ok := s.lookupCard(c)
	if !ok {
		return
	}
	plan, err := card.AllOn(c.Request.Context())
	s.respondPlan(c, card, "all_on", plan, err)
}

func (s *Server) respondPlan(c *gin.Context, card *devices.Card, op string, plan usbdo96.Plan, err error) {
	if err != nil {
		writeError(c, err)
		return
	}

	on := plan.Next.OnChannels()
	response := OperationResponse{
		Card:       card.Name,
		Operation:  op,
		Changed:    plan.Changed,
		Frames:     len(plan.Frames),
		Clusters:   len(plan.Clusters),
		OnChannels: make([]int, 0, len(on)),
	}
	if response.Changed == nil {
		response.Changed = []usbdo96.Change{}
	}
	for _, ch := range on {
		response.OnChannels = append(response.OnChannels, int(ch))
	}

	c.JSON(http.StatusOK, response)
}
