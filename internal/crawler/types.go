package crawler

import (
	"bytes"
	"encoding/json"
	"strings"
)

// SortOrder controls the scan order of the remote listing.
type SortOrder string

// Supported sort orders. Neither affects which servers end up in a snapshot.
const (
	SortAsc  SortOrder = "Asc"
	SortDesc SortOrder = "Desc"
)

// ParseSortOrder normalizes a configured sort order, case-insensitively.
func ParseSortOrder(raw string) (SortOrder, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "asc":
		return SortAsc, true
	case "desc":
		return SortDesc, true
	default:
		return "", false
	}
}

// PageRequest identifies one page of the public server listing.
type PageRequest struct {
	PlaceID          int64
	Limit            int
	SortOrder        SortOrder
	ExcludeFullGames bool
	Cursor           string
}

// RawServer is one listing entry as returned by the API. Numeric fields are
// pointers so absent values can be told apart from zero.
type RawServer struct {
	ID         string          `json:"id"`
	Playing    *int            `json:"playing"`
	MaxPlayers *int            `json:"maxPlayers"`
	Created    json.RawMessage `json:"created,omitempty"`
}

// HasOpenSlot reports whether the server has room for at least one player.
func (s RawServer) HasOpenSlot() bool {
	return intOrZero(s.Playing) < intOrZero(s.MaxPlayers)
}

// Record maps the entry to its snapshot shape.
func (s RawServer) Record() ServerRecord {
	return ServerRecord{
		ID:         s.ID,
		Playing:    intOrZero(s.Playing),
		MaxPlayers: intOrZero(s.MaxPlayers),
		Created:    normalizeCreated(s.Created),
	}
}

// Page is one decoded API response. Body keeps the raw bytes for archival.
type Page struct {
	Data           []RawServer `json:"data"`
	NextPageCursor *string     `json:"nextPageCursor"`
	Body           []byte      `json:"-"`
}

// NextCursor returns the continuation cursor, or "" on the last page.
func (p Page) NextCursor() string {
	if p.NextPageCursor == nil {
		return ""
	}
	return *p.NextPageCursor
}

// ServerRecord is a retained server with open capacity.
type ServerRecord struct {
	ID         string          `json:"id"`
	Playing    int             `json:"playing"`
	MaxPlayers int             `json:"maxPlayers"`
	Created    json.RawMessage `json:"created"`
}

// Snapshot is the result of one complete crawl run.
type Snapshot struct {
	FetchedAt int64          `json:"fetched_at"`
	PlaceID   int64          `json:"placeId"`
	Servers   []ServerRecord `json:"servers"`
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// normalizeCreated collapses null, empty strings, zero and false into an
// absent timestamp.
func normalizeCreated(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", `""`, "0", "false":
		return nil
	}
	out := make(json.RawMessage, len(trimmed))
	copy(out, trimmed)
	return out
}
