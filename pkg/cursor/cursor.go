// Package cursor implements the opaque pagination cursors used by the catalog
// and comment listing endpoints. A cursor encodes the sort key of the last row
// of a page; the next page's predicate is "strictly after this key" under the
// listing's total order, which guarantees no duplicated or skipped rows even
// when rows are inserted between page fetches.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalid is returned for cursors that fail decoding. Callers treat an
// invalid cursor as a client error, never as "start from the beginning".
var ErrInvalid = errors.New("cursor: invalid cursor")

// Cursor is the decoded page boundary. UpdatedAt and ID are always set; Stars
// is present only for popularity-sorted catalog pages, where (updated_at, id)
// alone is not a total order over the sort.
type Cursor struct {
	UpdatedAt time.Time `json:"u"`
	ID        string    `json:"i"`
	Stars     *int64    `json:"s,omitempty"`
}

// Encode serializes a recency cursor from the last row of a page.
func Encode(updatedAt time.Time, id string) string {
	return encode(Cursor{UpdatedAt: updatedAt, ID: id})
}

// EncodeWithStars serializes a popularity cursor carrying the stars count.
func EncodeWithStars(updatedAt time.Time, id string, stars int64) string {
	return encode(Cursor{UpdatedAt: updatedAt, ID: id, Stars: &stars})
}

func encode(c Cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a client-supplied cursor. It fails closed: any structural
// problem yields ErrInvalid rather than a zero-valued cursor.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, ErrInvalid
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalid
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, ErrInvalid
	}
	if c.UpdatedAt.IsZero() || c.ID == "" {
		return nil, ErrInvalid
	}
	return &c, nil
}
