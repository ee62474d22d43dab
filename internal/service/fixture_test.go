package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/repository/memory"
	"github.com/Freeeeeet/tutoring_bot/internal/scheduler"
	"github.com/Freeeeeet/tutoring_bot/internal/timewindow"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// 2025-10-09 00:00 UTC. Волонтёр в IST (+330), поэтому слот 11:30 это 06:00Z
var epoch = time.Date(2025, 10, 9, 0, 0, 0, 0, time.UTC)

const (
	testDate    = "2025-10-09"
	testSlot    = "11:30-12:00"
	defaultHost = "default@example.com"
)

var (
	slotStart = time.Date(2025, 10, 9, 6, 0, 0, 0, time.UTC)
	slotEnd   = slotStart.Add(30 * time.Minute)
)

type sentNotification struct {
	userID string
	kind   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, userID, kind string, _ map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{userID: userID, kind: kind})
	return nil
}

func (n *recordingNotifier) count(userID, kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.userID == userID && s.kind == kind {
			c++
		}
	}
	return c
}

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) Publish(_ context.Context, userID, event string, _ any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, userID+" "+event)
	return nil
}

func (b *recordingBus) has(userID, event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == userID+" "+event {
			return true
		}
	}
	return false
}

type fakeMeetings struct {
	mu        sync.Mutex
	failHosts map[string]bool
	hosts     []string
	ended     []string
	seq       int
}

func (m *fakeMeetings) Create(_ context.Context, host, _ string, start time.Time, _ int) (*model.Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hosts = append(m.hosts, host)
	if m.failHosts[host] {
		return nil, fmt.Errorf("%w: host %s rejected", ErrProvisioner, host)
	}
	m.seq++
	id := fmt.Sprintf("m%d", m.seq)
	return &model.Meeting{
		MeetingID:    id,
		JoinURL:      "https://meet.test/room/" + id,
		HostURL:      "https://meet.test/room/" + id + "?host=1",
		HostIdentity: host,
		CreatedAt:    start,
	}, nil
}

func (m *fakeMeetings) End(_ context.Context, meetingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, meetingID)
	return nil
}

func (m *fakeMeetings) endedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ended...)
}

type fixture struct {
	ctx      context.Context
	clk      *clock.FakeClock
	sessions *memory.SessionRepository
	avail    *memory.AvailabilityRepository
	users    *memory.UserRepository
	ledger   *AvailabilityLedger
	timers   *scheduler.Scheduler
	meetings *fakeMeetings
	notifier *recordingNotifier
	events   *recordingBus
	svc      *SessionService
	nextTG   int64

	student   model.Caller
	student2  model.Caller
	volunteer model.Caller
	stranger  model.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx:      context.Background(),
		clk:      clock.Fake(epoch),
		sessions: memory.NewSessionRepository(),
		avail:    memory.NewAvailabilityRepository(),
		users:    memory.NewUserRepository(),
		meetings: &fakeMeetings{failHosts: map[string]bool{}},
		notifier: &recordingNotifier{},
		events:   &recordingBus{},
	}

	logger := zap.NewNop()
	f.ledger = NewAvailabilityLedger(f.sessions, f.avail, f.clk, logger)
	f.timers = scheduler.New(f.clk, 10*time.Minute, logger)
	t.Cleanup(f.timers.Stop)

	f.svc = NewSessionService(
		f.sessions, f.users, f.ledger, f.timers, f.meetings, f.notifier, f.events, f.clk,
		SessionOptions{Policy: timewindow.DefaultPolicy(), DefaultDuration: 30, DefaultHost: defaultHost},
		logger,
	)
	f.timers.SetHandler(f.svc)

	ist := 330
	f.student = f.addUser(t, "st1", "Анна", model.RoleStudent, "", nil)
	f.student2 = f.addUser(t, "st2", "Борис", model.RoleStudent, "", nil)
	f.volunteer = f.addUser(t, "vol", "Виктор", model.RoleVolunteer, "vol@example.com", &ist)
	f.stranger = f.addUser(t, "x", "Чужой", model.RoleStudent, "", nil)

	f.publish(t, testDate, testSlot)
	return f
}

// rewire пересобирает ledger и сервис поверх другого хранилища сессий
func (f *fixture) rewire(sessions SessionRepository) {
	logger := zap.NewNop()
	f.ledger = NewAvailabilityLedger(sessions, f.avail, f.clk, logger)
	f.svc = NewSessionService(
		sessions, f.users, f.ledger, f.timers, f.meetings, f.notifier, f.events, f.clk,
		SessionOptions{Policy: timewindow.DefaultPolicy(), DefaultDuration: 30, DefaultHost: defaultHost},
		logger,
	)
	f.timers.SetHandler(f.svc)
}

func (f *fixture) addUser(t *testing.T, id, name string, role model.Role, email string, offset *int) model.Caller {
	t.Helper()
	f.nextTG++
	u := &model.User{ID: id, TelegramID: 1000 + f.nextTG, Username: id, Name: name, Role: role, Email: email, UTCOffsetMinutes: offset}
	require.NoError(t, f.users.Create(context.Background(), u))
	return model.CallerFor(u)
}

func (f *fixture) publish(t *testing.T, date string, slots ...string) {
	t.Helper()
	_, err := f.ledger.Replace(f.ctx, f.volunteer.UserID, date, slots)
	require.NoError(t, err)
}

func (f *fixture) slots(t *testing.T, date string) []string {
	t.Helper()
	day, err := f.avail.Get(f.ctx, f.volunteer.UserID, date)
	require.NoError(t, err)
	if day == nil {
		return nil
	}
	return day.Slots
}

// request студент просит сессию у волонтёра с предложенным слотом
func (f *fixture) request(t *testing.T, caller model.Caller, slot *model.Slot) *model.Session {
	t.Helper()
	out, err := f.svc.Create(f.ctx, caller, CreateRequest{
		TargetID: f.volunteer.UserID,
		Subject:  "Алгебра",
		Message:  "Квадратные уравнения",
		Proposed: slot,
	})
	require.NoError(t, err)
	return out.Session
}

// scheduled создаёт и принимает сессию на testSlot
func (f *fixture) scheduled(t *testing.T) *model.Session {
	t.Helper()
	sess := f.request(t, f.student, &model.Slot{Date: testDate, TimeOrRange: testSlot})
	out, err := f.svc.Respond(f.ctx, f.volunteer, sess.ID, ActionAccept)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusScheduled, out.Session.Status)
	return out.Session
}

func (f *fixture) reload(t *testing.T, id string) *model.Session {
	t.Helper()
	sess, err := f.sessions.GetByID(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, sess)
	return sess
}
