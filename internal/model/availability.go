package model

import "time"

// Availability опубликованные слоты волонтёра на одну календарную дату
type Availability struct {
	OwnerID   string    `json:"owner_id"`
	Date      string    `json:"date"`  // YYYY-MM-DD без часового пояса
	Slots     []string  `json:"slots"` // "11:30-12:00" или "11:30"
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone возвращает копию со своим срезом слотов
func (a *Availability) Clone() *Availability {
	if a == nil {
		return nil
	}
	c := *a
	c.Slots = append([]string(nil), a.Slots...)
	return &c
}
