package store

import (
	"fmt"
	"time"
)

const MaxPageSize = 100

// Cursor is the keyset position of most lists: the (updated_at, id) pair of
// the last row the caller has seen.
type Cursor struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type TrendingCursor struct {
	ID        string `json:"id"`
	ViewCount int    `json:"viewCount"`
}

type HistoryCursor struct {
	ID       string    `json:"id"`
	ViewedAt time.Time `json:"viewedAt"`
}

type LikedCursor struct {
	ID      string    `json:"id"`
	LikedAt time.Time `json:"likedAt"`
}

type SubscriptionCursor struct {
	CreatorID string    `json:"creatorId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Page is one slice of a keyset-paginated list. NextCursor is nil on the
// last page.
type Page[T any, C any] struct {
	Items      []T `json:"items"`
	NextCursor *C  `json:"nextCursor"`
}

// ValidateLimit rejects page sizes outside [1, MaxPageSize].
func ValidateLimit(limit int) error {
	if limit < 1 || limit > MaxPageSize {
		return fmt.Errorf("limit must be between 1 and %d", MaxPageSize)
	}
	return nil
}

// newPage trims a limit+1 result set. The cursor is built from the last row
// that is kept, never from the probe row.
func newPage[T any, C any](rows []T, limit int, cursorOf func(T) C) Page[T, C] {
	if len(rows) <= limit {
		return Page[T, C]{Items: rows}
	}
	items := rows[:limit]
	next := cursorOf(items[len(items)-1])
	return Page[T, C]{Items: items, NextCursor: &next}
}

// args collects positional parameters while a query is assembled.
type args struct {
	values []any
}

func (a *args) add(value any) string {
	a.values = append(a.values, value)
	return fmt.Sprintf("$%d", len(a.values))
}
