package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"AISRelay/internal/state"
)

// MessageTypePositionReport is the only stream message type the relay consumes.
const MessageTypePositionReport = "PositionReport"

// Discard reasons. None of these is a session error: the frame is dropped.
var (
	ErrNotPositionReport = errors.New("not a position report")
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrMissingField      = errors.New("missing required field")
	ErrBadTimestamp      = errors.New("unparseable report time")
)

const (
	// ReportTimeLayout is both the source time_utc layout and the rendered
	// snapshot layout (YYYYMMDDHHMMSS).
	ReportTimeLayout = "20060102150405"

	// longReportTimeLayout is how the public aisstream endpoint prints time_utc.
	longReportTimeLayout = "2006-01-02 15:04:05.999999999 -0700 MST"
)

// --- JSON wire formats ---
// These structs mirror the aisstream frame. Pointers mark fields whose
// absence changes behaviour.

type aisMessageJSON struct {
	MessageType string `json:"MessageType"`
	Message     struct {
		PositionReport *positionReportJSON `json:"PositionReport"`
	} `json:"Message"`
	MetaData *metaDataJSON `json:"MetaData"`
}

type positionReportJSON struct {
	UserID      *int64   `json:"UserID"`
	Latitude    float64  `json:"Latitude"`
	Longitude   float64  `json:"Longitude"`
	TrueHeading *float64 `json:"TrueHeading"`
	Sog         float64  `json:"Sog"`
}

type metaDataJSON struct {
	ShipName string `json:"ShipName"`
	TimeUTC  string `json:"time_utc"`
}

// ParseFrame converts one raw frame into a VesselRecord, rendering the
// report time in loc. The returned error wraps one of the discard reasons.
func ParseFrame(frame []byte, loc *time.Location) (state.VesselRecord, error) {
	var msg aisMessageJSON
	if err := json.Unmarshal(frame, &msg); err != nil {
		return state.VesselRecord{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if msg.MessageType != MessageTypePositionReport {
		return state.VesselRecord{}, fmt.Errorf("%w: %q", ErrNotPositionReport, msg.MessageType)
	}

	report := msg.Message.PositionReport
	if report == nil {
		return state.VesselRecord{}, fmt.Errorf("%w: Message.PositionReport", ErrMissingField)
	}
	if report.UserID == nil {
		return state.VesselRecord{}, fmt.Errorf("%w: PositionReport.UserID", ErrMissingField)
	}
	if msg.MetaData == nil {
		return state.VesselRecord{}, fmt.Errorf("%w: MetaData", ErrMissingField)
	}

	ts, err := ConvertReportTime(msg.MetaData.TimeUTC, loc)
	if err != nil {
		return state.VesselRecord{}, err
	}

	vesselID := *report.UserID
	name := strings.TrimSpace(msg.MetaData.ShipName)
	if name == "" {
		name = strconv.FormatInt(vesselID, 10)
	}

	return state.VesselRecord{
		VesselID:   vesselID,
		VesselName: name,
		Longitude:  report.Longitude,
		Latitude:   report.Latitude,
		Heading:    report.TrueHeading,
		Speed:      report.Sog,
		Timestamp:  ts,
	}, nil
}

// ConvertReportTime parses a UTC report time and renders it from the wall
// clock of loc. The conversion happens exactly once.
func ConvertReportTime(raw string, loc *time.Location) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: MetaData.time_utc", ErrMissingField)
	}

	t, err := time.ParseInLocation(ReportTimeLayout, raw, time.UTC)
	if err != nil {
		t, err = time.Parse(longReportTimeLayout, raw)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrBadTimestamp, raw)
		}
	}

	return t.In(loc).Format(ReportTimeLayout), nil
}

// discardReason maps a ParseFrame error to a metric label.
func discardReason(err error) string {
	switch {
	case errors.Is(err, ErrNotPositionReport):
		return "not_position_report"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrBadTimestamp):
		return "bad_timestamp"
	default:
		return "malformed"
	}
}
