package ingestion

import (
	"fmt"
	"time"

	"AISRelay/internal/observability"
	"AISRelay/internal/state"

	"github.com/rs/zerolog"
)

// Decoder applies frames from one session to the shared vessel store.
// Safe for concurrent use.
type Decoder struct {
	store   *state.VesselStore
	loc     *time.Location
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewDecoder(store *state.VesselStore, loc *time.Location, metrics *observability.Metrics, log zerolog.Logger) *Decoder {
	return &Decoder{
		store:   store,
		loc:     loc,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Handle decodes frame and upserts the record when it is a position report.
// Anything else is dropped; Handle never fails and never panics.
func (d *Decoder) Handle(frame []byte) (rec state.VesselRecord, applied bool) {
	defer func() {
		if r := recover(); r != nil {
			d.discard(fmt.Errorf("%w: panic: %v", ErrMalformedFrame, r))
			rec, applied = state.VesselRecord{}, false
		}
	}()

	rec, err := ParseFrame(frame, d.loc)
	if err != nil {
		d.discard(err)
		return state.VesselRecord{}, false
	}

	rec.ReceivedAt = d.now()
	d.store.Upsert(rec)

	d.log.Debug().
		Str("name", rec.VesselName).
		Int64("mmsi", rec.VesselID).
		Msg("position report")

	if d.metrics != nil {
		d.metrics.FramesDecoded.Inc()
		d.metrics.VesselsTracked.Set(float64(d.store.Len()))
	}
	return rec, true
}

func (d *Decoder) discard(err error) {
	d.log.Debug().Err(err).Msg("frame discarded")
	if d.metrics != nil {
		d.metrics.FramesDiscarded.WithLabelValues(discardReason(err)).Inc()
	}
}
