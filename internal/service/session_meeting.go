package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"go.uber.org/zap"
)

// JoinInfo ссылки на встречу для участника
type JoinInfo struct {
	SessionID   string
	JoinURL     string
	HostURL     string // только для волонтёра
	PersonalURL string
	StartAt     time.Time
	EndAt       time.Time
}

// JoinLink выдаёт ссылку на встречу в окне входа, при необходимости создавая встречу
func (s *SessionService) JoinLink(ctx context.Context, caller model.Caller, id string) (*JoinInfo, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(sess, caller); err != nil {
		return nil, err
	}
	if !sess.Status.HoldsSlot() || sess.Final == nil {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidTransition, sess.Status)
	}

	now := s.clock.Now()
	start, end := sess.Final.StartAt, sess.Final.EndAt

	if !s.policy.InJoinWindow(now, start, end) {
		return nil, &WindowError{
			Now:      now,
			OpensAt:  s.policy.JoinOpensAt(start),
			ClosesAt: s.policy.JoinClosesAt(end),
		}
	}

	meeting := sess.Final.Meeting
	if meeting == nil {
		if !s.policy.InGenerateWindow(now, start, end) {
			return nil, &WindowError{
				Now:      now,
				OpensAt:  start.Add(-s.policy.GenerateLead),
				ClosesAt: end,
			}
		}

		var created bool
		meeting, created, err = s.ensureMeeting(ctx, id)
		if err != nil {
			return nil, err
		}
		if created {
			payload := sessionPayload(sess)
			payload["join_url"] = meeting.JoinURL
			s.dispatch(ctx, []Effect{
				notifyEffect(sess.OtherParticipant(caller.UserID), NotifyMeetingLinkReady, payload),
			})
		}
	}

	info := &JoinInfo{
		SessionID:   sess.ID,
		JoinURL:     meeting.JoinURL,
		PersonalURL: withUname(meeting.JoinURL, caller.Name),
		StartAt:     start,
		EndAt:       end,
	}
	if caller.UserID == sess.CounterpartID {
		info.HostURL = meeting.HostURL
	}
	return info, nil
}

// ensureMeeting создаёт встречу, если её ещё нет. Хост - email волонтёра, при ошибке один раз запасной
func (s *SessionService) ensureMeeting(ctx context.Context, id string) (*model.Meeting, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if sess.Final == nil || sess.Status.IsTerminal() {
		return nil, false, fmt.Errorf("%w: session is %s", ErrInvalidTransition, sess.Status)
	}
	if sess.Final.Meeting != nil {
		return sess.Final.Meeting, false, nil
	}

	host := s.defaultHost
	owner, err := s.users.GetByID(ctx, sess.CounterpartID)
	if err != nil {
		s.logger.Warn("Failed to load meeting host", zap.String("session_id", id), zap.Error(err))
	}
	if owner != nil && owner.Email != "" {
		host = owner.Email
	}

	meeting, err := s.meetings.Create(ctx, host, sess.Subject, sess.Final.StartAt, sess.Final.DurationMinutes)
	if err != nil && host != s.defaultHost && s.defaultHost != "" {
		s.logger.Warn("Meeting creation failed, retrying with default host",
			zap.String("session_id", id),
			zap.String("host", host),
			zap.Error(err))
		meeting, err = s.meetings.Create(ctx, s.defaultHost, sess.Subject, sess.Final.StartAt, sess.Final.DurationMinutes)
	}
	if err != nil {
		if !errors.Is(err, ErrProvisioner) {
			err = fmt.Errorf("%w: %v", ErrProvisioner, err)
		}
		return nil, false, err
	}

	sess.Final.Meeting = meeting
	sess.UpdatedAt = s.clock.Now()
	if err := s.sessions.Update(ctx, sess); err != nil {
		if endErr := s.meetings.End(ctx, meeting.MeetingID); endErr != nil {
			s.logger.Warn("Failed to end orphaned meeting", zap.String("meeting_id", meeting.MeetingID), zap.Error(endErr))
		}
		return nil, false, fmt.Errorf("update session: %w", err)
	}

	s.logger.Info("Meeting created",
		zap.String("session_id", id),
		zap.String("meeting_id", meeting.MeetingID),
		zap.String("host", meeting.HostIdentity),
	)

	return meeting, true, nil
}

// withUname добавляет имя участника к ссылке входа
func withUname(rawURL, name string) string {
	if rawURL == "" || name == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("uname", name)
	u.RawQuery = q.Encode()
	return u.String()
}
