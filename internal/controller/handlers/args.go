package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Freeeeeet/tutoring_bot/internal/timewindow"
)

var (
	ErrMissingArgs   = errors.New("missing arguments")
	ErrInvalidOffset = errors.New("invalid utc offset")
)

// commandArgs слова после команды. "/accept@bot abc" -> ["abc"]
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	return fields[1:]
}

// parseOffset разбирает "+05:30", "-3", "UTC+5:30" или "330" в минуты к востоку от UTC
func parseOffset(raw string) (int, error) {
	s := strings.TrimSpace(strings.ToUpper(raw))
	s = strings.TrimPrefix(s, "UTC")
	s = strings.TrimPrefix(s, "GMT")
	if s == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, raw)
	}

	sign := 1
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	}

	var minutes int
	if h, m, ok := strings.Cut(s, ":"); ok {
		hours, err1 := strconv.Atoi(h)
		mins, err2 := strconv.Atoi(m)
		if err1 != nil || err2 != nil || mins < 0 || mins > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, raw)
		}
		minutes = hours*60 + mins
	} else {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, raw)
		}
		// маленькие числа считаем часами
		if v <= 14 {
			v *= 60
		}
		minutes = v
	}

	minutes *= sign
	if minutes < -720 || minutes > 840 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidOffset, raw)
	}
	return minutes, nil
}

// requestArgs разбор "/request @user [YYYY-MM-DD HH:MM[-HH:MM]] [тема...]"
type requestArgs struct {
	Target  string
	Date    string
	Time    string
	Subject string
}

func parseRequestArgs(args []string) (requestArgs, error) {
	if len(args) == 0 {
		return requestArgs{}, ErrMissingArgs
	}

	r := requestArgs{Target: args[0]}
	rest := args[1:]
	if len(rest) > 0 {
		if _, err := timewindow.ParseDate(rest[0]); err == nil {
			if len(rest) < 2 {
				return requestArgs{}, fmt.Errorf("%w: time after date", ErrMissingArgs)
			}
			if err := timewindow.Validate(rest[0], rest[1]); err != nil {
				return requestArgs{}, err
			}
			r.Date, r.Time = rest[0], rest[1]
			rest = rest[2:]
		}
	}
	r.Subject = strings.Join(rest, " ")
	return r, nil
}

// scheduleArgs разбор "/schedule <id> YYYY-MM-DD HH:MM[-HH:MM] [минуты]"
type scheduleArgs struct {
	SessionID string
	Date      string
	Time      string
	Duration  int
}

func parseScheduleArgs(args []string) (scheduleArgs, error) {
	if len(args) < 3 {
		return scheduleArgs{}, ErrMissingArgs
	}
	if err := timewindow.Validate(args[1], args[2]); err != nil {
		return scheduleArgs{}, err
	}

	s := scheduleArgs{SessionID: args[0], Date: args[1], Time: args[2]}
	if len(args) > 3 {
		d, err := strconv.Atoi(args[3])
		if err != nil || d < MinDuration || d > MaxDuration {
			return scheduleArgs{}, fmt.Errorf("%w: duration must be %d-%d minutes", timewindow.ErrInvalidFormat, MinDuration, MaxDuration)
		}
		s.Duration = d
	}
	return s, nil
}

// slotsArgs разбор "/slots YYYY-MM-DD [слоты...]"
func parseSlotsArgs(args []string) (date string, slots []string, err error) {
	if len(args) == 0 {
		return "", nil, ErrMissingArgs
	}
	date = args[0]
	if _, err := timewindow.ParseDate(date); err != nil {
		return "", nil, err
	}
	for _, raw := range args[1:] {
		for _, slot := range strings.Split(raw, ",") {
			if slot = strings.TrimSpace(slot); slot != "" {
				slots = append(slots, slot)
			}
		}
	}
	return date, slots, nil
}
