// Package meeting выдаёт комнаты для занятий
package meeting

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrHostNotAllowed = errors.New("meeting host not allowed")
	ErrUnknownMeeting = errors.New("unknown meeting")
)

type room struct {
	meeting *model.Meeting
	endsAt  time.Time
	ended   bool
}

// RoomProvisioner комнаты по адресу {base}/room/{id}. Хост получает отдельный ключ
type RoomProvisioner struct {
	baseURL      string
	allowedHosts map[string]struct{}
	clock        clock.Clock
	logger       *zap.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

// NewRoomProvisioner пустой allowedHosts разрешает любой хост
func NewRoomProvisioner(baseURL string, allowedHosts []string, clk clock.Clock, logger *zap.Logger) *RoomProvisioner {
	allowed := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			allowed[h] = struct{}{}
		}
	}
	return &RoomProvisioner{
		baseURL:      strings.TrimRight(baseURL, "/"),
		allowedHosts: allowed,
		clock:        clk,
		logger:       logger,
		rooms:        make(map[string]*room),
	}
}

// Create создаёт комнату на время занятия
func (p *RoomProvisioner) Create(ctx context.Context, hostIdentity, topic string, start time.Time, durationMinutes int) (*model.Meeting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	host := strings.ToLower(strings.TrimSpace(hostIdentity))
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrHostNotAllowed)
	}
	if len(p.allowedHosts) > 0 {
		if _, ok := p.allowedHosts[host]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
		}
	}

	id := uuid.NewString()
	joinURL := fmt.Sprintf("%s/room/%s", p.baseURL, id)

	hostQuery := url.Values{}
	hostQuery.Set("key", uuid.NewString())
	hostQuery.Set("topic", topic)

	meeting := &model.Meeting{
		MeetingID:    id,
		JoinURL:      joinURL,
		HostURL:      joinURL + "?" + hostQuery.Encode(),
		HostIdentity: host,
		CreatedAt:    p.clock.Now(),
	}

	p.mu.Lock()
	p.rooms[id] = &room{
		meeting: meeting,
		endsAt:  start.Add(time.Duration(durationMinutes) * time.Minute),
	}
	p.mu.Unlock()

	p.logger.Info("Meeting room created",
		zap.String("meeting_id", id),
		zap.String("host", host),
		zap.Time("start_at", start),
		zap.Int("duration_minutes", durationMinutes),
	)

	copied := *meeting
	return &copied, nil
}

// End закрывает комнату. Повторное закрытие не ошибка
func (p *RoomProvisioner) End(ctx context.Context, meetingID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.rooms[meetingID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMeeting, meetingID)
	}
	if r.ended {
		return nil
	}
	r.ended = true

	p.logger.Info("Meeting room ended", zap.String("meeting_id", meetingID))
	return nil
}

// Active сообщает, что комната существует и не закрыта
func (p *RoomProvisioner) Active(meetingID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.rooms[meetingID]
	return ok && !r.ended
}

// Prune удаляет закрытые и давно закончившиеся комнаты
func (p *RoomProvisioner) Prune(olderThan time.Duration) int {
	cutoff := p.clock.Now().Add(-olderThan)

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for id, r := range p.rooms {
		if r.ended || r.endsAt.Before(cutoff) {
			delete(p.rooms, id)
			removed++
		}
	}
	return removed
}
