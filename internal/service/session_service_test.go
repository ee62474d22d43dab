package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/timewindow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptWithProposalSchedulesAndArms(t *testing.T) {
	f := newFixture(t)

	sess := f.request(t, f.student, &model.Slot{Date: testDate, TimeOrRange: testSlot})
	assert.Equal(t, model.SessionStatusPending, sess.Status)
	assert.Equal(t, f.student.UserID, sess.RequestedBy)
	assert.Equal(t, 1, f.notifier.count(f.volunteer.UserID, NotifySessionRequest))

	out, err := f.svc.Respond(f.ctx, f.volunteer, sess.ID, ActionAccept)
	require.NoError(t, err)
	assert.False(t, out.NeedsReschedule)

	got := out.Session
	assert.Equal(t, model.SessionStatusScheduled, got.Status)
	require.NotNil(t, got.Final)
	assert.Equal(t, slotStart, got.Final.StartAt)
	assert.Equal(t, slotEnd, got.Final.EndAt)
	assert.Equal(t, 30, got.Final.DurationMinutes)
	assert.Equal(t, testSlot, got.Final.ClaimedSlot)
	assert.NotNil(t, got.AcceptedAt)
	assert.NotNil(t, got.ScheduledAt)

	assert.Empty(t, f.slots(t, testDate))
	assert.Equal(t, 2, f.timers.Pending(sess.ID))
	assert.True(t, f.events.has(f.student.UserID, EventSessionScheduled))
	assert.True(t, f.events.has(f.volunteer.UserID, EventSessionScheduled))

	stored := f.reload(t, sess.ID)
	assert.Equal(t, model.SessionStatusScheduled, stored.Status)
}

func TestAcceptIsIdempotent(t *testing.T) {
	f := newFixture(t)
	first := f.scheduled(t)

	again, err := f.svc.Respond(f.ctx, f.volunteer, first.ID, ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusScheduled, again.Session.Status)
	assert.Equal(t, first.Final, again.Session.Final)
	assert.Empty(t, again.Effects)
	assert.Equal(t, 2, f.timers.Pending(first.ID))
}

func TestConcurrentAcceptsScheduleExactlyOne(t *testing.T) {
	f := newFixture(t)

	slot := &model.Slot{Date: testDate, TimeOrRange: testSlot}
	a := f.request(t, f.student, slot)
	b := f.request(t, f.student2, slot)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []*Outcome
	)
	for _, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			out, err := f.svc.Respond(f.ctx, f.volunteer, id, ActionAccept)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	require.Len(t, outcomes, 2)
	scheduled, rescheduled := 0, 0
	for _, out := range outcomes {
		switch out.Session.Status {
		case model.SessionStatusScheduled:
			scheduled++
			assert.False(t, out.NeedsReschedule)
		case model.SessionStatusAccepted:
			rescheduled++
			assert.True(t, out.NeedsReschedule)
			assert.Nil(t, out.Session.Final)
		}
	}
	assert.Equal(t, 1, scheduled)
	assert.Equal(t, 1, rescheduled)
	assert.Equal(t, 1, f.notifier.count(f.volunteer.UserID, NotifyRescheduleRequest))
	assert.Empty(t, f.slots(t, testDate))
}

func TestConcurrentManualScheduleNeverDoubleBooks(t *testing.T) {
	f := newFixture(t)

	var ids []string
	for i := 0; i < 8; i++ {
		sess := f.request(t, f.student, nil)
		_, err := f.svc.Respond(f.ctx, f.volunteer, sess.ID, ActionAccept)
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.ManualSchedule(f.ctx, f.student, id, ScheduleRequest{Date: testDate, TimeOrRange: "11:30"})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	active, err := f.sessions.GetActiveByOwnerDate(f.ctx, f.volunteer.UserID, testDate)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestAcceptWithoutProposalThenManualSchedule(t *testing.T) {
	f := newFixture(t)

	sess := f.request(t, f.student, nil)
	out, err := f.svc.Respond(f.ctx, f.volunteer, sess.ID, ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusAccepted, out.Session.Status)
	assert.False(t, out.NeedsReschedule)
	assert.Zero(t, f.timers.Pending(sess.ID))

	out, err = f.svc.ManualSchedule(f.ctx, f.student, sess.ID, ScheduleRequest{Date: testDate, TimeOrRange: "11:30"})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusScheduled, out.Session.Status)
	assert.Equal(t, testSlot, out.Session.Final.ClaimedSlot)
	// длительность берётся из снятого диапазона
	assert.Equal(t, 30, out.Session.Final.DurationMinutes)
	assert.Equal(t, 2, f.timers.Pending(sess.ID))
}

func TestManualScheduleExplicitStartAndDuration(t *testing.T) {
	f := newFixture(t)
	sess := f.request(t, f.student, nil)

	start := time.Date(2025, 10, 9, 6, 5, 0, 0, time.UTC)
	out, err := f.svc.ManualSchedule(f.ctx, f.volunteer, sess.ID, ScheduleRequest{
		Date:            testDate,
		TimeOrRange:     "11:30",
		DurationMinutes: 45,
		StartAt:         &start,
	})
	require.NoError(t, err)
	assert.Equal(t, start, out.Session.Final.StartAt)
	assert.Equal(t, start.Add(45*time.Minute), out.Session.Final.EndAt)
}

func TestManualScheduleFromPendingRequiresRespondent(t *testing.T) {
	f := newFixture(t)
	sess := f.request(t, f.student, nil)

	_, err := f.svc.ManualSchedule(f.ctx, f.student, sess.ID, ScheduleRequest{Date: testDate, TimeOrRange: testSlot})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestManualScheduleUnavailableSlotSignalsReschedule(t *testing.T) {
	f := newFixture(t)
	sess := f.request(t, f.student, nil)

	out, err := f.svc.ManualSchedule(f.ctx, f.volunteer, sess.ID, ScheduleRequest{Date: testDate, TimeOrRange: "15:00"})
	require.NoError(t, err)
	assert.True(t, out.NeedsReschedule)
	assert.Equal(t, model.SessionStatusPending, out.Session.Status)
}

func TestRescheduleReleasesOldSlotAndRearms(t *testing.T) {
	f := newFixture(t)
	f.publish(t, testDate, testSlot, "14:00-14:30")
	sess := f.scheduled(t)
	assert.Equal(t, []string{"14:00-14:30"}, f.slots(t, testDate))

	// тот же слот ничего не меняет
	same, err := f.svc.ManualSchedule(f.ctx, f.student, sess.ID, ScheduleRequest{Date: testDate, TimeOrRange: testSlot})
	require.NoError(t, err)
	assert.Empty(t, same.Effects)

	out, err := f.svc.ManualSchedule(f.ctx, f.student, sess.ID, ScheduleRequest{Date: testDate, TimeOrRange: "14:00-14:30"})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusScheduled, out.Session.Status)
	assert.Equal(t, time.Date(2025, 10, 9, 8, 30, 0, 0, time.UTC), out.Session.Final.StartAt)
	assert.Equal(t, []string{testSlot}, f.slots(t, testDate))
	assert.Equal(t, 2, f.timers.Pending(sess.ID))

	// старый конец слота проходит без финализации
	f.clk.Set(slotEnd.Add(time.Minute))
	assert.Equal(t, model.SessionStatusScheduled, f.reload(t, sess.ID).Status)
}

func TestCancelBeforeStartReleasesSlot(t *testing.T) {
	f := newFixture(t)
	sess := f.scheduled(t)

	out, err := f.svc.Cancel(f.ctx, f.student, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCancelled, out.Session.Status)
	assert.Equal(t, f.student.UserID, out.Session.CancelledBy)
	assert.Equal(t, []string{testSlot}, f.slots(t, testDate))
	assert.Zero(t, f.timers.Pending(sess.ID))
	assert.Equal(t, 1, f.notifier.count(f.volunteer.UserID, NotifySessionCancelled))

	// повтор отмены безопасен
	again, err := f.svc.Cancel(f.ctx, f.student, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Effects)

	// слот снова можно занять
	next := f.request(t, f.student2, &model.Slot{Date: testDate, TimeOrRange: testSlot})
	res, err := f.svc.Respond(f.ctx, f.volunteer, next.ID, ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusScheduled, res.Session.Status)
}

func TestCancelAfterStartKeepsSlotClaimed(t *testing.T) {
	f := newFixture(t)
	sess := f.scheduled(t)
	f.timers.Disarm(sess.ID)

	f.clk.Set(slotStart.Add(5 * time.Minute))
	out, err := f.svc.Cancel(f.ctx, f.volunteer, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCancelled, out.Session.Status)
	assert.Empty(t, f.slots(t, testDate))
}

func TestCancelInProgressIsInvalid(t *testing.T) {
	f := newFixture(t)
	sess := f.scheduled(t)

	_, err := f.svc.RecordPresence(f.ctx, f.student, sess.ID, ActionJoin)
	require.NoError(t, err)

	_, err = f.svc.Cancel(f.ctx, f.student, sess.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSilentNoShowExpires(t *testing.T) {
	f := newFixture(t)
	sess := f.scheduled(t)

	f.clk.Set(slotEnd)

	got := f.reload(t, sess.ID)
	assert.Equal(t, model.SessionStatusExpired, got.Status)
	assert.NotNil(t, got.ExpiredAt)
	assert.Zero(t, f.timers.Pending(sess.ID))

	// pre-open создал встречу, финализация её завершила
	require.NotNil(t, got.Final.Meeting)
	assert.Contains(t, f.meetings.endedIDs(), got.Final.Meeting.MeetingID)
	assert.Equal(t, 1, f.notifier.count(f.student.UserID, NotifySessionStarting))
	assert.Equal(t, 1, f.notifier.count(f.student.UserID, NotifySessionExpired))
}

func TestPresenceJoinAndLeaveCompletes(t *testing.T) {
	f := newFixture(t)
	sess := f.scheduled(t)

	out, err := f.svc.RecordPresence(f.ctx, f.student, sess.ID, ActionJoin)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, out.Session.Status)
	assert.NotNil(t, out.Session.Attendance.Requester.JoinedAt)

	_, err = f.svc.RecordPresence(f.ctx, f.volunteer, sess.ID, ActionJoin)
	require.NoError(t, err)

	out, err = f.svc.RecordPresence(f.ctx, f.student, sess.ID, ActionLeave)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, out.Session.Status)

	out, err = f.svc.RecordPresence(f.ctx, f.volunteer, sess.ID, ActionLeave)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, out.Session.Status)
	assert.NotNil(t, out.Session.CompletedAt)
	assert.Zero(t, f.timers.Pending(sess.ID))

	// поздний выход ничего не меняет
	out, err = f.svc.RecordPresence(f.ctx, f.volunteer, sess.ID, ActionLeave)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, out.Session.Status)

	_, err = f.svc.RecordPresence(f.ctx, f.volunteer, sess.ID, ActionJoin)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFinalizeAfterJoinDoesNotExpire(t *testing.T) {
	f := newFixture(t)
	sess := f.scheduled(t)

	f.clk.Set(slotStart.Add(-5 * time.Minute))
	_, err := f.svc.RecordPresence(f.ctx, f.student, sess.ID, ActionJoin)
	require.NoError(t, err)

	_, err = f.svc.ForceExpire(f.ctx, model.SystemCaller(), sess.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.clk.Set(slotEnd)
	got := f.reload(t, sess.ID)
	assert.Equal(t, model.SessionStatusInProgress, got.Status)
	require.NotNil(t, got.Final.Meeting)
	assert.Contains(t, f.meetings.endedIDs(), got.Final.Meeting.MeetingID)
}

func TestForceExpireAcceptedAndTerminalNoop(t *testing.T) {
	f := newFixture(t)
	sess := f.request(t, f.student, nil)

	_, err := f.svc.ForceExpire(f.ctx, model.SystemCaller(), sess.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "pending cannot expire")

	_, err = f.svc.Respond(f.ctx, f.volunteer, sess.ID, ActionAccept)
	require.NoError(t, err)

	_, err = f.svc.ForceExpire(f.ctx, f.stranger, sess.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	out, err := f.svc.ForceExpire(f.ctx, model.SystemCaller(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusExpired, out.Session.Status)

	again, err := f.svc.ForceExpire(f.ctx, model.SystemCaller(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Effects)
}

func TestForceExpireBeforeStartReleasesSlot(t *testing.T) {
	f := newFixture(t)
	sess := f.scheduled(t)
	require.Empty(t, f.slots(t, testDate))

	out, err := f.svc.ForceExpire(f.ctx, f.student, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusExpired, out.Session.Status)
	assert.Equal(t, []string{testSlot}, f.slots(t, testDate))
	assert.Zero(t, f.timers.Pending(sess.ID))

	// слот снова можно закрепить за другой заявкой
	other := f.request(t, f.student2, &model.Slot{Date: testDate, TimeOrRange: testSlot})
	accepted, err := f.svc.Respond(f.ctx, f.volunteer, other.ID, ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusScheduled, accepted.Session.Status)
}

func TestForeignCallerIsForbidden(t *testing.T) {
	f := newFixture(t)
	sess := f.scheduled(t)

	_, err := f.svc.Cancel(f.ctx, f.stranger, sess.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.RecordPresence(f.ctx, f.stranger, sess.ID, ActionJoin)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Respond(f.ctx, f.stranger, sess.ID, ActionAccept)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Get(f.ctx, f.stranger, sess.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.JoinLink(f.ctx, f.stranger, sess.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRequesterCannotAcceptOwnRequest(t *testing.T) {
	f := newFixture(t)
	sess := f.request(t, f.student, nil)

	_, err := f.svc.Respond(f.ctx, f.student, sess.ID, ActionAccept)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestVolunteerOfferIsAcceptedByStudent(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Create(f.ctx, f.volunteer, CreateRequest{
		TargetID: f.student.UserID,
		Subject:  "Физика",
		Proposed: &model.Slot{Date: testDate, TimeOrRange: testSlot},
	})
	require.NoError(t, err)
	sess := out.Session
	assert.Equal(t, f.student.UserID, sess.RequesterID)
	assert.Equal(t, f.volunteer.UserID, sess.CounterpartID)
	assert.Equal(t, 1, f.notifier.count(f.student.UserID, NotifySessionRequest))

	_, err = f.svc.Respond(f.ctx, f.volunteer, sess.ID, ActionAccept)
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := f.svc.Respond(f.ctx, f.student, sess.ID, ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusScheduled, res.Session.Status)
	// слот интерпретируется во времени волонтёра
	assert.Equal(t, slotStart, res.Session.Final.StartAt)
}

func TestRejectIsAbsorbing(t *testing.T) {
	f := newFixture(t)
	sess := f.request(t, f.student, &model.Slot{Date: testDate, TimeOrRange: testSlot})

	out, err := f.svc.Respond(f.ctx, f.volunteer, sess.ID, ActionReject)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusRejected, out.Session.Status)
	assert.Equal(t, 1, f.notifier.count(f.student.UserID, NotifySessionUpdate))

	again, err := f.svc.Respond(f.ctx, f.volunteer, sess.ID, ActionReject)
	require.NoError(t, err)
	assert.Empty(t, again.Effects)

	_, err = f.svc.Respond(f.ctx, f.volunteer, sess.ID, ActionAccept)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Cancel(f.ctx, f.student, sess.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, []string{testSlot}, f.slots(t, testDate))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		caller  model.Caller
		req     CreateRequest
		wantErr error
	}{
		{
			name:    "empty subject",
			caller:  f.student,
			req:     CreateRequest{TargetID: f.volunteer.UserID, Subject: "  "},
			wantErr: ErrValidation,
		},
		{
			name:    "self request",
			caller:  f.volunteer,
			req:     CreateRequest{TargetID: f.volunteer.UserID, Subject: "Алгебра"},
			wantErr: ErrInvalidParticipant,
		},
		{
			name:    "unknown target",
			caller:  f.student,
			req:     CreateRequest{TargetID: "ghost", Subject: "Алгебра"},
			wantErr: ErrInvalidParticipant,
		},
		{
			name:    "student to student",
			caller:  f.student,
			req:     CreateRequest{TargetID: f.student2.UserID, Subject: "Алгебра"},
			wantErr: ErrInvalidParticipant,
		},
		{
			name:    "anonymous",
			caller:  model.Caller{},
			req:     CreateRequest{TargetID: f.volunteer.UserID, Subject: "Алгебра"},
			wantErr: ErrForbidden,
		},
		{
			name:   "malformed slot",
			caller: f.student,
			req: CreateRequest{TargetID: f.volunteer.UserID, Subject: "Алгебра",
				Proposed: &model.Slot{Date: "09.10.2025", TimeOrRange: "11:30"}},
			wantErr: ErrValidation,
		},
		{
			name:   "slot not published",
			caller: f.student,
			req: CreateRequest{TargetID: f.volunteer.UserID, Subject: "Алгебра",
				Proposed: &model.Slot{Date: testDate, TimeOrRange: "18:00"}},
			wantErr: ErrSlotUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(f.ctx, tt.caller, tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestCreateRejectsAlreadyBookedSlot(t *testing.T) {
	f := newFixture(t)
	f.scheduled(t)

	_, err := f.svc.Create(f.ctx, f.student2, CreateRequest{
		TargetID: f.volunteer.UserID,
		Subject:  "Алгебра",
		Proposed: &model.Slot{Date: testDate, TimeOrRange: "11:30"},
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Cancel(f.ctx, f.student, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Get(f.ctx, f.student, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMineNewestFirst(t *testing.T) {
	f := newFixture(t)

	first := f.request(t, f.student, nil)
	f.clk.Advance(time.Minute)
	second := f.request(t, f.student, nil)
	f.request(t, f.student2, nil)

	mine, err := f.svc.ListMine(f.ctx, f.student)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Equal(t, first.ID, mine[1].ID)

	all, err := f.svc.ListMine(f.ctx, f.volunteer)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestJoinLinkWindows(t *testing.T) {
	f := newFixture(t)
	sess := f.scheduled(t)
	// без pre-open, чтобы встречу создал именно JoinLink
	f.timers.Disarm(sess.ID)

	_, err := f.svc.JoinLink(f.ctx, f.student, sess.ID)
	var werr *WindowError
	require.ErrorAs(t, err, &werr)
	assert.True(t, werr.NotYetOpen())
	assert.ErrorIs(t, err, ErrWindowClosed)
	assert.Equal(t, slotStart.Add(-15*time.Minute), werr.OpensAt)

	// окно входа открыто, окно генерации ещё нет
	f.clk.Set(slotStart.Add(-12 * time.Minute))
	_, err = f.svc.JoinLink(f.ctx, f.student, sess.ID)
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, slotStart.Add(-10*time.Minute), werr.OpensAt)

	f.clk.Set(slotStart.Add(-10 * time.Minute))
	info, err := f.svc.JoinLink(f.ctx, f.student, sess.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, info.JoinURL)
	assert.Empty(t, info.HostURL)
	assert.Contains(t, info.PersonalURL, "uname=")
	assert.Equal(t, 1, f.notifier.count(f.volunteer.UserID, NotifyMeetingLinkReady))

	host, err := f.svc.JoinLink(f.ctx, f.volunteer, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, info.JoinURL, host.JoinURL)
	assert.NotEmpty(t, host.HostURL)
	assert.Equal(t, []string{"vol@example.com"}, f.meetings.hosts)

	// после конца слота и grace ссылка больше не выдаётся
	f.clk.Set(slotEnd.Add(11 * time.Minute))
	_, err = f.svc.JoinLink(f.ctx, f.student, sess.ID)
	require.ErrorAs(t, err, &werr)
	assert.False(t, werr.NotYetOpen())
}

func TestMeetingFallsBackToDefaultHost(t *testing.T) {
	f := newFixture(t)
	f.meetings.failHosts["vol@example.com"] = true
	sess := f.scheduled(t)
	f.timers.Disarm(sess.ID)

	f.clk.Set(slotStart)
	info, err := f.svc.JoinLink(f.ctx, f.volunteer, sess.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, info.JoinURL)
	assert.Equal(t, []string{"vol@example.com", defaultHost}, f.meetings.hosts)

	stored := f.reload(t, sess.ID)
	require.NotNil(t, stored.Final.Meeting)
	assert.Equal(t, defaultHost, stored.Final.Meeting.HostIdentity)
}

func TestMeetingProvisionerFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.meetings.failHosts["vol@example.com"] = true
	f.meetings.failHosts[defaultHost] = true
	sess := f.scheduled(t)
	f.timers.Disarm(sess.ID)

	f.clk.Set(slotStart)
	_, err := f.svc.JoinLink(f.ctx, f.student, sess.ID)
	assert.ErrorIs(t, err, ErrProvisioner)
}

func TestRearmAllRestoresTimers(t *testing.T) {
	f := newFixture(t)
	sess := f.scheduled(t)
	f.request(t, f.student2, nil)

	f.timers.Disarm(sess.ID)
	require.Zero(t, f.timers.Pending(sess.ID))

	n, err := f.svc.RearmAll(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.timers.Pending(sess.ID))
}

func TestSweepExpiresOverdueSessions(t *testing.T) {
	f := newFixture(t)
	sess := f.scheduled(t)
	f.timers.Disarm(sess.ID)

	n, err := f.svc.SweepOverdue(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// конец прошёл, но окно входа ещё открыто
	f.clk.Set(slotEnd.Add(time.Minute))
	n, err = f.svc.SweepOverdue(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, model.SessionStatusScheduled, f.reload(t, sess.ID).Status)

	f.clk.Set(slotEnd.Add(timewindow.DefaultPolicy().JoinGrace + time.Minute))
	n, err = f.svc.SweepOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.SessionStatusExpired, f.reload(t, sess.ID).Status)
}

func TestWithUname(t *testing.T) {
	assert.Equal(t, "https://meet.test/r?a=1&uname=Bob", withUname("https://meet.test/r?a=1", "Bob"))
	assert.Equal(t, "https://meet.test/r", withUname("https://meet.test/r", ""))
	assert.Equal(t, "", withUname("", "Bob"))
}

// gatedSessions задерживает первое сохранение выбранной сессии, пока тест не откроет шлюз
type gatedSessions struct {
	SessionRepository
	id      string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSessions) Update(ctx context.Context, sess *model.Session) error {
	if sess.ID == g.id {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.SessionRepository.Update(ctx, sess)
}

func TestAcceptDuringUnsavedClaimOfOverlappingSlot(t *testing.T) {
	f := newFixture(t)
	f.publish(t, testDate, "11:30", "11:30-12:00")

	a := f.request(t, f.student, &model.Slot{Date: testDate, TimeOrRange: "11:30"})
	b := f.request(t, f.student2, &model.Slot{Date: testDate, TimeOrRange: "11:30-12:00"})

	gated := &gatedSessions{
		SessionRepository: f.sessions,
		id:                a.ID,
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	f.rewire(gated)

	done := make(chan *Outcome)
	go func() {
		out, err := f.svc.Respond(f.ctx, f.volunteer, a.ID, ActionAccept)
		assert.NoError(t, err)
		done <- out
	}()
	<-gated.entered

	outB, err := f.svc.Respond(f.ctx, f.volunteer, b.ID, ActionAccept)
	require.NoError(t, err)
	assert.True(t, outB.NeedsReschedule)
	assert.Equal(t, model.SessionStatusAccepted, outB.Session.Status)

	close(gated.release)
	outA := <-done
	require.NotNil(t, outA)
	assert.Equal(t, model.SessionStatusScheduled, outA.Session.Status)

	active, err := f.sessions.GetActiveByOwnerDate(f.ctx, f.volunteer.UserID, testDate)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)
	assert.Equal(t, []string{"11:30-12:00"}, f.slots(t, testDate))
}

// staleOnce перед первым сохранением выбранной сессии записывает чужое изменение
type staleOnce struct {
	SessionRepository
	id     string
	once   sync.Once
	change func(sess *model.Session)
}

func (s *staleOnce) Update(ctx context.Context, sess *model.Session) error {
	if sess.ID == s.id {
		s.once.Do(func() {
			other, err := s.SessionRepository.GetByID(ctx, sess.ID)
			if err == nil && other != nil {
				s.change(other)
				_ = s.SessionRepository.Update(ctx, other)
			}
		})
	}
	return s.SessionRepository.Update(ctx, sess)
}

func TestConcurrentWriterIsNotOverwritten(t *testing.T) {
	f := newFixture(t)
	sess := f.scheduled(t)

	// другой процесс успевает отменить занятие между чтением и записью
	f.rewire(&staleOnce{
		SessionRepository: f.sessions,
		id:                sess.ID,
		change: func(other *model.Session) {
			other.Status = model.SessionStatusCancelled
		},
	})

	_, err := f.svc.RecordPresence(f.ctx, f.student, sess.ID, ActionJoin)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, model.SessionStatusCancelled, f.reload(t, sess.ID).Status)
}

func TestStaleSaveIsRetriedOnFreshRecord(t *testing.T) {
	f := newFixture(t)
	sess := f.scheduled(t)

	f.rewire(&staleOnce{
		SessionRepository: f.sessions,
		id:                sess.ID,
		change: func(other *model.Session) {
			other.Message = "обновлено"
		},
	})

	out, err := f.svc.RecordPresence(f.ctx, f.student, sess.ID, ActionJoin)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, out.Session.Status)

	stored := f.reload(t, sess.ID)
	assert.Equal(t, model.SessionStatusInProgress, stored.Status)
	assert.Equal(t, "обновлено", stored.Message)
}
