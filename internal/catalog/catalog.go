// Package catalog parses the LoxAPP3.json structure catalog the Miniserver
// serves as a Binary/file message, and bridges its textual UUID convention
// to the wire UUID type used throughout internal/protocol.
package catalog

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/postalsys/loxone-go/internal/protocol"
)

// Control is one entry in the catalog's "controls" map: a single
// controllable or observable point in the installation (a light, a blind,
// a sensor, ...).
type Control struct {
	Name       string                     `json:"name"`
	Type       string                     `json:"type"`
	UUIDAction string                     `json:"uuidAction"`
	Room       string                     `json:"room"`
	Cat        string                     `json:"cat"`
	States     map[string]json.RawMessage `json:"states"`
}

// Room is an entry in the catalog's "rooms" map.
type Room struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// Category is an entry in the catalog's "cats" map.
type Category struct {
	Name string `json:"name"`
	Type string `json:"type"`
	UUID string `json:"uuid"`
}

// raw mirrors the subset of LoxAPP3.json this client cares about; the full
// document carries a great deal more (weather server config, media server
// zones, global states) that callers needing it can re-parse from RawJSON.
type raw struct {
	LastModified string              `json:"lastModified"`
	MsInfo       json.RawMessage     `json:"msInfo"`
	Controls     map[string]Control  `json:"controls"`
	Rooms        map[string]Room     `json:"rooms"`
	Cats         map[string]Category `json:"cats"`
	GlobalStates map[string]string   `json:"globalStates"`
}

// Catalog is the parsed structure file, with controls, rooms and categories
// indexed by their wire UUID for O(1) lookup from a decoded ValueEvent or
// TextEvent.
type Catalog struct {
	LastModified string
	Controls     map[protocol.UUID]Control
	Rooms        map[protocol.UUID]Room
	Categories   map[protocol.UUID]Category
	GlobalStates map[string]protocol.UUID

	RawJSON []byte
}

// Parse decodes a LoxAPP3.json document.
func Parse(data []byte) (*Catalog, error) {
	var doc raw
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode LoxAPP3.json: %w", err)
	}

	cat := &Catalog{
		LastModified: doc.LastModified,
		Controls:     make(map[protocol.UUID]Control, len(doc.Controls)),
		Rooms:        make(map[protocol.UUID]Room, len(doc.Rooms)),
		Categories:   make(map[protocol.UUID]Category, len(doc.Cats)),
		GlobalStates: make(map[string]protocol.UUID, len(doc.GlobalStates)),
		RawJSON:      data,
	}

	for key, ctrl := range doc.Controls {
		id, err := ParseUUID(key)
		if err != nil {
			return nil, fmt.Errorf("catalog: control %q: %w", key, err)
		}
		cat.Controls[id] = ctrl
	}
	for key, room := range doc.Rooms {
		id, err := ParseUUID(key)
		if err != nil {
			return nil, fmt.Errorf("catalog: room %q: %w", key, err)
		}
		cat.Rooms[id] = room
	}
	for key, c := range doc.Cats {
		id, err := ParseUUID(key)
		if err != nil {
			return nil, fmt.Errorf("catalog: category %q: %w", key, err)
		}
		cat.Categories[id] = c
	}
	for name, uuidStr := range doc.GlobalStates {
		id, err := ParseUUID(uuidStr)
		if err != nil {
			return nil, fmt.Errorf("catalog: global state %q: %w", name, err)
		}
		cat.GlobalStates[name] = id
	}

	return cat, nil
}

// Lookup finds a control by its wire UUID, the form event records carry.
func (c *Catalog) Lookup(id protocol.UUID) (Control, bool) {
	ctrl, ok := c.Controls[id]
	return ctrl, ok
}

// RoomName looks up a control's room name, returning "" if unknown.
func (c *Catalog) RoomName(control Control) string {
	id, err := ParseUUID(control.Room)
	if err != nil {
		return ""
	}
	if room, ok := c.Rooms[id]; ok {
		return room.Name
	}
	return ""
}

// CategoryName looks up a control's category name, returning "" if unknown.
func (c *Catalog) CategoryName(control Control) string {
	id, err := ParseUUID(control.Cat)
	if err != nil {
		return ""
	}
	if cat, ok := c.Categories[id]; ok {
		return cat.Name
	}
	return ""
}

// ParseUUID converts LoxAPP3's textual UUID convention — 32 hex digits
// grouped as 8-4-4-16, the trailing group sized to carry the sub-index
// suffix Loxone appends for cloned controls — into the same 16 raw bytes
// the event stream carries. Unlike a standard RFC 4122 string, the grouping
// here is purely cosmetic: no field reordering happens between the two
// representations, so a plain hyphen-strip-and-hex-decode round-trips
// exactly against protocol.UUID.String().
func ParseUUID(s string) (protocol.UUID, error) {
	stripped := strings.ReplaceAll(s, "-", "")
	if len(stripped) != protocol.UUIDSize*2 {
		return protocol.ZeroUUID, fmt.Errorf("catalog: %q is not a 16-byte uuid", s)
	}
	b, err := hex.DecodeString(stripped)
	if err != nil {
		return protocol.ZeroUUID, fmt.Errorf("catalog: %q: %w", s, err)
	}
	return protocol.FromBytes(b)
}

// FormatUUID renders a wire UUID in LoxAPP3's 8-4-4-16 grouped form.
func FormatUUID(id protocol.UUID) string {
	h := hex.EncodeToString(id[:])
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:32]
}
