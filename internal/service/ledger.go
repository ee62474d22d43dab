package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/Freeeeeet/tutoring_bot/internal/keylock"
	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"go.uber.org/zap"
)

var slotNormalizer = strings.NewReplacer("–", "-", "—", "-")

// NormalizeSlot убирает пробелы и приводит тире к "-"
func NormalizeSlot(s string) string {
	return strings.Join(strings.Fields(slotNormalizer.Replace(s)), "")
}

// SlotsMatch две записи слота совпадают, если равны после нормализации
// или одна является префиксом другой ("11:30" и "11:30-12:00").
// Известное ограничение: "11:3" тоже совпадёт с "11:30".
func SlotsMatch(a, b string) bool {
	na, nb := NormalizeSlot(a), NormalizeSlot(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb || strings.HasPrefix(na, nb) || strings.HasPrefix(nb, na)
}

// hold слот снят, но сессия, которая его держит, ещё не сохранена
type hold struct {
	requested string
	claimed   string
}

// AvailabilityLedger владеет слотами волонтёров и атомарно их закрепляет
type AvailabilityLedger struct {
	sessions     SessionRepository
	availability AvailabilityRepository
	locks        *keylock.Locker
	clock        clock.Clock
	logger       *zap.Logger

	holdsMu sync.Mutex
	holds   map[string]map[string]hold // owner|date -> session id
}

func NewAvailabilityLedger(
	sessions SessionRepository,
	availability AvailabilityRepository,
	clk clock.Clock,
	logger *zap.Logger,
) *AvailabilityLedger {
	return &AvailabilityLedger{
		sessions:     sessions,
		availability: availability,
		locks:        keylock.New(),
		clock:        clk,
		logger:       logger,
		holds:        make(map[string]map[string]hold),
	}
}

func ledgerKey(ownerID, date string) string {
	return ownerID + "|" + date
}

// TryClaim атомарно проверяет и снимает слот. Возвращает исходную строку снятого слота.
// false без ошибки означает, что слот занят или не опубликован.
// sessionID сессия, для которой снимается слот: её собственные записи не считаются занятостью.
// До вызова Settle снятый слот считается занятым этой сессией
func (l *AvailabilityLedger) TryClaim(ctx context.Context, ownerID, date, timeOrRange, sessionID string) (string, bool, error) {
	if NormalizeSlot(timeOrRange) == "" {
		return "", false, nil
	}

	unlock := l.locks.Lock(ledgerKey(ownerID, date))
	defer unlock()

	taken, err := l.heldByActiveSession(ctx, ownerID, date, timeOrRange, sessionID)
	if err != nil {
		return "", false, err
	}
	if taken {
		return "", false, nil
	}

	day, err := l.availability.Get(ctx, ownerID, date)
	if err != nil {
		return "", false, fmt.Errorf("get availability: %w", err)
	}
	if day == nil {
		return "", false, nil
	}

	idx := indexOfMatch(day.Slots, timeOrRange)
	if idx < 0 {
		return "", false, nil
	}

	claimed := day.Slots[idx]
	day.Slots = append(day.Slots[:idx:idx], day.Slots[idx+1:]...)
	day.UpdatedAt = l.clock.Now()

	if err := l.availability.Save(ctx, day); err != nil {
		return "", false, fmt.Errorf("save availability: %w", err)
	}
	if sessionID != "" {
		l.setHold(ledgerKey(ownerID, date), sessionID, hold{requested: timeOrRange, claimed: claimed})
	}

	l.logger.Info("Slot claimed",
		zap.String("owner_id", ownerID),
		zap.String("date", date),
		zap.String("slot", claimed),
		zap.String("requested", timeOrRange),
	)

	return claimed, true, nil
}

// Settle снимает отметку о незавершённом захвате. Вызывается после сохранения сессии,
// успешного или нет: дальше занятость видна по самой сессии или слот уже возвращён
func (l *AvailabilityLedger) Settle(ownerID, date, sessionID string) {
	key := ledgerKey(ownerID, date)
	unlock := l.locks.Lock(key)
	defer unlock()

	l.holdsMu.Lock()
	defer l.holdsMu.Unlock()

	delete(l.holds[key], sessionID)
	if len(l.holds[key]) == 0 {
		delete(l.holds, key)
	}
}

func (l *AvailabilityLedger) setHold(key, sessionID string, h hold) {
	l.holdsMu.Lock()
	defer l.holdsMu.Unlock()

	if l.holds[key] == nil {
		l.holds[key] = make(map[string]hold)
	}
	l.holds[key][sessionID] = h
}

// heldInFlight слот снят для другой сессии, которая ещё не сохранена
func (l *AvailabilityLedger) heldInFlight(key, timeOrRange, excludeSessionID string) bool {
	l.holdsMu.Lock()
	defer l.holdsMu.Unlock()

	for id, h := range l.holds[key] {
		if id == excludeSessionID {
			continue
		}
		if SlotsMatch(h.requested, timeOrRange) || SlotsMatch(h.claimed, timeOrRange) {
			return true
		}
	}
	return false
}

// Release возвращает слот в доступность. Повторный вызов ничего не делает
func (l *AvailabilityLedger) Release(ctx context.Context, ownerID, date, slot string) {
	if NormalizeSlot(slot) == "" {
		return
	}

	unlock := l.locks.Lock(ledgerKey(ownerID, date))
	defer unlock()

	day, err := l.availability.Get(ctx, ownerID, date)
	if err != nil {
		l.logger.Error("Failed to load availability for release",
			zap.String("owner_id", ownerID),
			zap.String("date", date),
			zap.Error(err))
		return
	}
	if day == nil {
		day = &model.Availability{OwnerID: ownerID, Date: date}
	}

	want := NormalizeSlot(slot)
	for _, existing := range day.Slots {
		if NormalizeSlot(existing) == want {
			return
		}
	}

	day.Slots = append(day.Slots, slot)
	sort.Strings(day.Slots)
	day.UpdatedAt = l.clock.Now()

	if err := l.availability.Save(ctx, day); err != nil {
		l.logger.Error("Failed to release slot",
			zap.String("owner_id", ownerID),
			zap.String("date", date),
			zap.String("slot", slot),
			zap.Error(err))
		return
	}

	l.logger.Info("Slot released",
		zap.String("owner_id", ownerID),
		zap.String("date", date),
		zap.String("slot", slot),
	)
}

// IsAvailable та же проверка, что и TryClaim, но без снятия слота
func (l *AvailabilityLedger) IsAvailable(ctx context.Context, ownerID, date, timeOrRange string) (bool, error) {
	if NormalizeSlot(timeOrRange) == "" {
		return false, nil
	}

	unlock := l.locks.Lock(ledgerKey(ownerID, date))
	defer unlock()

	taken, err := l.heldByActiveSession(ctx, ownerID, date, timeOrRange, "")
	if err != nil || taken {
		return false, err
	}

	day, err := l.availability.Get(ctx, ownerID, date)
	if err != nil {
		return false, fmt.Errorf("get availability: %w", err)
	}
	return day != nil && indexOfMatch(day.Slots, timeOrRange) >= 0, nil
}

// Replace заменяет слоты дня целиком
func (l *AvailabilityLedger) Replace(ctx context.Context, ownerID, date string, slots []string) (*model.Availability, error) {
	unlock := l.locks.Lock(ledgerKey(ownerID, date))
	defer unlock()

	day := &model.Availability{
		OwnerID:   ownerID,
		Date:      date,
		Slots:     dedupeSlots(slots),
		UpdatedAt: l.clock.Now(),
	}
	if err := l.availability.Save(ctx, day); err != nil {
		return nil, fmt.Errorf("save availability: %w", err)
	}
	return day, nil
}

// Toggle добавляет слот или убирает его, если он уже опубликован
func (l *AvailabilityLedger) Toggle(ctx context.Context, ownerID, date, slot string) (*model.Availability, error) {
	unlock := l.locks.Lock(ledgerKey(ownerID, date))
	defer unlock()

	day, err := l.availability.Get(ctx, ownerID, date)
	if err != nil {
		return nil, fmt.Errorf("get availability: %w", err)
	}
	if day == nil {
		day = &model.Availability{OwnerID: ownerID, Date: date}
	}

	want := NormalizeSlot(slot)
	kept := day.Slots[:0:0]
	removed := false
	for _, existing := range day.Slots {
		if NormalizeSlot(existing) == want {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		kept = append(kept, slot)
	}

	day.Slots = dedupeSlots(kept)
	day.UpdatedAt = l.clock.Now()
	if err := l.availability.Save(ctx, day); err != nil {
		return nil, fmt.Errorf("save availability: %w", err)
	}
	return day, nil
}

func (l *AvailabilityLedger) heldByActiveSession(ctx context.Context, ownerID, date, timeOrRange, excludeSessionID string) (bool, error) {
	if l.heldInFlight(ledgerKey(ownerID, date), timeOrRange, excludeSessionID) {
		return true, nil
	}

	active, err := l.sessions.GetActiveByOwnerDate(ctx, ownerID, date)
	if err != nil {
		return false, fmt.Errorf("get active sessions: %w", err)
	}

	for _, sess := range active {
		if sess.ID == excludeSessionID || sess.Final == nil {
			continue
		}
		if SlotsMatch(sess.Final.TimeOrRange, timeOrRange) || SlotsMatch(sess.Final.ClaimedSlot, timeOrRange) {
			return true, nil
		}
	}
	return false, nil
}

func indexOfMatch(slots []string, timeOrRange string) int {
	for i, slot := range slots {
		if SlotsMatch(slot, timeOrRange) {
			return i
		}
	}
	return -1
}

func dedupeSlots(slots []string) []string {
	seen := make(map[string]struct{}, len(slots))
	out := make([]string, 0, len(slots))
	for _, slot := range slots {
		slot = strings.TrimSpace(slot)
		key := NormalizeSlot(slot)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, slot)
	}
	sort.Strings(out)
	return out
}
