package ingestion_test

import (
	"AISRelay/internal/ingestion"
	"AISRelay/internal/state"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func losAngeles(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func frameFromJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func positionReport(userID int64, name, timeUTC string, heading interface{}) map[string]interface{} {
	report := map[string]interface{}{
		"UserID":    userID,
		"Latitude":  48.4284,
		"Longitude": -123.3656,
		"Sog":       12.5,
	}
	if heading != nil {
		report["TrueHeading"] = heading
	}
	return map[string]interface{}{
		"MessageType": "PositionReport",
		"Message": map[string]interface{}{
			"PositionReport": report,
		},
		"MetaData": map[string]interface{}{
			"ShipName": name,
			"time_utc": timeUTC,
		},
	}
}

func TestParsePositionReport(t *testing.T) {
	frame := frameFromJSON(t, positionReport(316001234, "SPIRIT OF VANCOUVER   ", "20230808222257", 127))

	rec, err := ingestion.ParseFrame(frame, losAngeles(t))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if rec.VesselID != 316001234 {
		t.Errorf("vessel id: got %d, want 316001234", rec.VesselID)
	}
	if rec.VesselName != "SPIRIT OF VANCOUVER" {
		t.Errorf("vessel name: got %q, want trimmed name", rec.VesselName)
	}
	if rec.Latitude != 48.4284 || rec.Longitude != -123.3656 {
		t.Errorf("position: got %f,%f", rec.Latitude, rec.Longitude)
	}
	if rec.Direction() != "127" {
		t.Errorf("direction: got %s, want 127", rec.Direction())
	}
	if rec.Speed != 12.5 {
		t.Errorf("speed: got %f, want 12.5", rec.Speed)
	}
	// 22:22:57 UTC is 15:22:57 PDT.
	if rec.Timestamp != "20230808152257" {
		t.Errorf("timestamp: got %s, want 20230808152257", rec.Timestamp)
	}
}

func TestParseFallbacks(t *testing.T) {
	frame := frameFromJSON(t, positionReport(367123450, "", "20230808222257", nil))

	rec, err := ingestion.ParseFrame(frame, losAngeles(t))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if rec.VesselName != "367123450" {
		t.Errorf("name fallback: got %q, want identifier", rec.VesselName)
	}
	if rec.Heading != nil || rec.Direction() != state.HeadingUnknown {
		t.Errorf("heading fallback: got %s, want %s", rec.Direction(), state.HeadingUnknown)
	}
}

func TestConvertReportTime(t *testing.T) {
	loc := losAngeles(t)

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"summer time", "20230808222257", "20230808152257"},
		{"standard time", "20240115120000", "20240115040000"},
		{"crosses midnight", "20230809030000", "20230808200000"},
		{"crosses new year", "20240101050000", "20231231210000"},
		{"aisstream long form", "2023-08-08 22:22:57.123456789 +0000 UTC", "20230808152257"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ingestion.ConvertReportTime(tc.in, loc)
			if err != nil {
				t.Fatalf("convert: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}

	if _, err := ingestion.ConvertReportTime("yesterday", loc); !errors.Is(err, ingestion.ErrBadTimestamp) {
		t.Errorf("expected ErrBadTimestamp, got %v", err)
	}
	if _, err := ingestion.ConvertReportTime("", loc); !errors.Is(err, ingestion.ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestParseRejects(t *testing.T) {
	loc := losAngeles(t)

	cases := []struct {
		name  string
		frame string
		want  error
	}{
		{"other message type", `{"MessageType":"ShipStaticData","Message":{},"MetaData":{"time_utc":"20230808222257"}}`, ingestion.ErrNotPositionReport},
		{"no message type", `{"Message":{"PositionReport":{"UserID":1}}}`, ingestion.ErrNotPositionReport},
		{"not json", `not json at all`, ingestion.ErrMalformedFrame},
		{"message is a string", `{"MessageType":"PositionReport","Message":"oops"}`, ingestion.ErrMalformedFrame},
		{"missing report body", `{"MessageType":"PositionReport","Message":{},"MetaData":{"time_utc":"20230808222257"}}`, ingestion.ErrMissingField},
		{"missing user id", `{"MessageType":"PositionReport","Message":{"PositionReport":{"Sog":1}},"MetaData":{"time_utc":"20230808222257"}}`, ingestion.ErrMissingField},
		{"missing metadata", `{"MessageType":"PositionReport","Message":{"PositionReport":{"UserID":1}}}`, ingestion.ErrMissingField},
		{"bad time", `{"MessageType":"PositionReport","Message":{"PositionReport":{"UserID":1}},"MetaData":{"time_utc":"soon"}}`, ingestion.ErrBadTimestamp},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestion.ParseFrame([]byte(tc.frame), loc)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDecoderHandle(t *testing.T) {
	store := state.NewVesselStore()
	dec := ingestion.NewDecoder(store, losAngeles(t), nil, zerolog.Nop())

	t.Run("foreign message type leaves store untouched", func(t *testing.T) {
		_, applied := dec.Handle([]byte(`{"MessageType":"StandardClassBPositionReport","Message":{"PositionReport":{"UserID":1}},"MetaData":{"time_utc":"20230808222257"}}`))
		if applied {
			t.Fatal("expected frame to be discarded")
		}
		if store.Len() != 0 {
			t.Fatalf("expected empty store, got %d", store.Len())
		}
	})

	t.Run("malformed frame is discarded", func(t *testing.T) {
		if _, applied := dec.Handle([]byte(`{"MessageType":`)); applied {
			t.Fatal("expected frame to be discarded")
		}
		if store.Len() != 0 {
			t.Fatalf("expected empty store, got %d", store.Len())
		}
	})

	t.Run("last write wins in arrival order", func(t *testing.T) {
		newer := frameFromJSON(t, positionReport(316001234, "NEWER", "20230808222257", 10))
		older := frameFromJSON(t, positionReport(316001234, "OLDER", "20200101000000", 20))

		if _, applied := dec.Handle(newer); !applied {
			t.Fatal("expected first frame to apply")
		}
		if _, applied := dec.Handle(older); !applied {
			t.Fatal("expected second frame to apply")
		}

		got, ok := store.Get(316001234)
		if !ok {
			t.Fatal("expected vessel in store")
		}
		if got.VesselName != "OLDER" || got.Direction() != "20" {
			t.Errorf("expected second frame to win, got %+v", got)
		}
		if got.ReceivedAt.IsZero() {
			t.Error("expected ReceivedAt to be set")
		}
	})
}
