package state

import (
	"strconv"
	"time"
)

// HeadingUnknown is rendered in place of a heading the source did not supply.
const HeadingUnknown = "unknown"

// VesselRecord is the latest known position of one vessel.
// VesselID (MMSI) is the key and never changes once the record exists.
type VesselRecord struct {
	VesselID   int64
	VesselName string
	Longitude  float64
	Latitude   float64
	Heading    *float64 // nil when the report had no TrueHeading
	Speed      float64
	Timestamp  string // YYYYMMDDHHMMSS in the target zone

	// ReceivedAt is local arrival time. In memory only, never persisted.
	ReceivedAt time.Time
}

// Key returns the identifier as stored in the durable snapshot.
func (r VesselRecord) Key() string {
	return strconv.FormatInt(r.VesselID, 10)
}

// Direction renders the heading, or HeadingUnknown.
func (r VesselRecord) Direction() string {
	if r.Heading == nil {
		return HeadingUnknown
	}
	return FormatNumber(*r.Heading)
}

// FormatNumber renders a float with the shortest exact representation
// ("12", "48.123"), matching what upstream producers emit.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
