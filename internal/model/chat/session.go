package chat

import "time"

// Session is a persisted conversation owned by exactly one user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary strips the message log for listings.
func (s Session) Summary() SessionSummary {
	return SessionSummary{
		ID:        s.ID,
		Title:     s.Title,
		UpdatedAt: s.UpdatedAt,
		CreatedAt: s.CreatedAt,
	}
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Touch returns the next UpdatedAt value. It is always strictly after prev, even when
// the clock has not advanced (or went backwards) between two saves.
func Touch(prev, now time.Time) time.Time {
	now = now.UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
