// Package pagination implements newest-first keyset paging over
// (created_at, id). Cursors are opaque to clients.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// ErrInvalidCursor wraps every cursor decoding failure.
var ErrInvalidCursor = errors.New("invalid cursor")

// Params is the raw paging input taken from a request.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor points at the last row of the previous page.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// NormalizeLimit maps non-positive limits to DefaultLimit and caps at MaxLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// EncodeCursor renders c as url-safe text of the form "<unix nanos>.<uuid>".
func EncodeCursor(c Cursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 36) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a value produced by EncodeCursor. Blank input yields a nil cursor.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	stamp, id, ok := strings.Cut(string(raw), ".")
	if !ok {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(stamp, 36, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: parsed}, nil
}

// Keyset orders query newest first, resumes after c when set, and fetches
// one row beyond limit so Split can tell whether another page exists.
func Keyset(query *gorm.DB, c *Cursor, limit int) *gorm.DB {
	if c != nil {
		query = query.Where("(created_at, id) < (?, ?)", c.CreatedAt, c.ID)
	}
	return query.Order("created_at DESC, id DESC").Limit(NormalizeLimit(limit) + 1)
}

// Split trims the look-ahead row fetched by Keyset and returns the cursor
// for the next page, or nil on the last page.
func Split[T any](rows []T, limit int, key func(T) Cursor) ([]T, *Cursor) {
	n := NormalizeLimit(limit)
	if len(rows) <= n {
		return rows, nil
	}
	next := key(rows[n-1])
	return rows[:n], &next
}
