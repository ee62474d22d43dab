package handlers

import (
	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/Freeeeeet/tutoring_bot/internal/controller/state"
	"github.com/Freeeeeet/tutoring_bot/internal/service"
	"go.uber.org/zap"
)

// Handlers содержит все зависимости для обработки команд
type Handlers struct {
	userService         *service.UserService
	sessionService      *service.SessionService
	availabilityService *service.AvailabilityService
	stateManager        *state.Manager
	clock               clock.Clock
	logger              *zap.Logger
}

// NewHandlers создаёт новый обработчик команд
func NewHandlers(
	userService *service.UserService,
	sessionService *service.SessionService,
	availabilityService *service.AvailabilityService,
	stateManager *state.Manager,
	clk clock.Clock,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		userService:         userService,
		sessionService:      sessionService,
		availabilityService: availabilityService,
		stateManager:        stateManager,
		clock:               clk,
		logger:              logger,
	}
}
