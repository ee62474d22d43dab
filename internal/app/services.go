package app

import (
	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/Freeeeeet/tutoring_bot/internal/config"
	"github.com/Freeeeeet/tutoring_bot/internal/meeting"
	"github.com/Freeeeeet/tutoring_bot/internal/scheduler"
	"github.com/Freeeeeet/tutoring_bot/internal/service"
	"go.uber.org/zap"
)

// Services собранный граф сервисов
type Services struct {
	Users        *service.UserService
	Sessions     *service.SessionService
	Availability *service.AvailabilityService
	Timers       *scheduler.Scheduler
	Meetings     *meeting.RoomProvisioner
}

// NewServices связывает сервисы между собой. Планировщик получает сервис сессий как обработчик
func NewServices(
	cfg *config.Config,
	store *Storage,
	notifier service.NotificationSink,
	events service.EventBus,
	clk clock.Clock,
	logger *zap.Logger,
) *Services {
	timers := scheduler.New(clk, cfg.PreOpenLead, logger.Named("scheduler"))
	meetings := meeting.NewRoomProvisioner(cfg.MeetingBaseURL, cfg.MeetingAllowedHosts, clk, logger.Named("meeting"))
	ledger := service.NewAvailabilityLedger(store.Sessions, store.Availability, clk, logger.Named("ledger"))

	sessions := service.NewSessionService(
		store.Sessions,
		store.Users,
		ledger,
		timers,
		meetings,
		notifier,
		events,
		clk,
		service.SessionOptions{
			Policy:          cfg.WindowPolicy(),
			DefaultDuration: cfg.DefaultDuration,
			DefaultHost:     cfg.MeetingDefaultHost,
		},
		logger.Named("sessions"),
	)
	timers.SetHandler(sessions)

	return &Services{
		Users:        service.NewUserService(store.Users, clk, logger.Named("users")),
		Sessions:     sessions,
		Availability: service.NewAvailabilityService(ledger, store.Availability, logger.Named("availability")),
		Timers:       timers,
		Meetings:     meetings,
	}
}
