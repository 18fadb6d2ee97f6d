package loxone

import (
	"github.com/postalsys/loxone-go/internal/dispatcher"
	"github.com/postalsys/loxone-go/internal/protocol"
)

// Event is one decoded event-table record: a ValueEvent, TextEvent,
// DaytimerEvent, or WeatherEvent, or the OutOfServiceEvent sentinel. Use a
// type switch to discriminate.
type Event = dispatcher.Event

// UUID is the 128-bit identifier Loxone controls and icons are addressed
// by in the event stream. See the catalog package for bridging it to
// LoxAPP3's dashed textual form.
type UUID = protocol.UUID

// ValueEvent is a single numeric state update.
type ValueEvent = protocol.ValueEvent

// TextEvent is a single string state update.
type TextEvent = protocol.TextEvent

// DaytimerEvent is a day-schedule update, carrying zero or more entries.
type DaytimerEvent = protocol.DaytimerEvent

// DaytimerEntry is one rule within a DaytimerEvent.
type DaytimerEntry = protocol.DaytimerEntry

// WeatherEvent is a forecast update, carrying zero or more entries.
type WeatherEvent = protocol.WeatherEvent

// WeatherEntry is one forecast point within a WeatherEvent.
type WeatherEntry = protocol.WeatherEntry

// OutOfServiceEvent is the sentinel delivered on Events(), immediately
// before the channel closes, when the Miniserver reports itself out of
// service. Err returns ErrOutOfService once this has been observed.
type OutOfServiceEvent = dispatcher.OutOfServiceEvent
