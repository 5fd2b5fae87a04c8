package persistence

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"AISRelay/internal/state"

	"github.com/rs/zerolog"
)

const (
	fieldSeparator = "|"
	rowFields      = 7
)

// Row is one vessel in the durable snapshot. Every field is already rendered
// text; rows loaded from a backend are written back exactly as read.
type Row struct {
	ID        string
	Name      string
	Longitude string
	Latitude  string
	Direction string
	Speed     string
	Timestamp string

	// Raw holds a stored line that does not have the seven-field shape.
	// Such a line is kept under the text before its first separator and
	// written back unchanged.
	Raw string
}

// Snapshot is the durable vessel set keyed by Row.ID.
type Snapshot map[string]Row

// SnapshotStore is a durable home for the snapshot.
// Load returns an empty snapshot when nothing has been written yet.
// Replace swaps the whole durable content for snap, all or nothing.
type SnapshotStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Replace(ctx context.Context, snap Snapshot) error
}

// RowFromRecord renders an in-memory record into its durable text form.
func RowFromRecord(rec state.VesselRecord) Row {
	return Row{
		ID:        rec.Key(),
		Name:      sanitizeName(rec.VesselName),
		Longitude: state.FormatNumber(rec.Longitude),
		Latitude:  state.FormatNumber(rec.Latitude),
		Direction: rec.Direction(),
		Speed:     state.FormatNumber(rec.Speed),
		Timestamp: rec.Timestamp,
	}
}

// sanitizeName keeps a name from breaking the line format.
func sanitizeName(name string) string {
	return strings.NewReplacer(fieldSeparator, " ", "\r", " ", "\n", " ").Replace(name)
}

// Fields returns the row in line order.
func (r Row) Fields() []string {
	return []string{r.ID, r.Name, r.Longitude, r.Latitude, r.Direction, r.Speed, r.Timestamp}
}

// Line renders the row as one pipe-delimited line, without the newline.
func (r Row) Line() string {
	if r.Raw != "" {
		return r.Raw
	}
	return strings.Join(r.Fields(), fieldSeparator)
}

// RowFromLine reads a stored line. A line ParseLine rejects becomes a raw
// row keyed by the text before its first separator.
func RowFromLine(line string) Row {
	row, err := ParseLine(line)
	if err == nil {
		return row
	}
	id, _, _ := strings.Cut(line, fieldSeparator)
	return Row{ID: id, Raw: line}
}

// ParseLine reads one pipe-delimited line. Lines with more than seven
// fields are assumed to carry separators inside the name.
func ParseLine(line string) (Row, error) {
	parts := strings.Split(line, fieldSeparator)
	if len(parts) < rowFields {
		return Row{}, fmt.Errorf("expected %d fields, got %d", rowFields, len(parts))
	}

	n := len(parts)
	return Row{
		ID:        parts[0],
		Name:      strings.Join(parts[1:n-5], fieldSeparator),
		Longitude: parts[n-5],
		Latitude:  parts[n-4],
		Direction: parts[n-3],
		Speed:     parts[n-2],
		Timestamp: parts[n-1],
	}, nil
}

// Merge overlays every in-memory record onto prior. In-memory rows win;
// rows only present in prior are kept as they are. prior is modified.
func Merge(prior Snapshot, records []state.VesselRecord) Snapshot {
	if prior == nil {
		prior = make(Snapshot, len(records))
	}
	for _, rec := range records {
		row := RowFromRecord(rec)
		prior[row.ID] = row
	}
	return prior
}

// SortedRows returns the rows ordered by numeric id, falling back to text
// order for ids that are not numbers.
func (s Snapshot) SortedRows() []Row {
	rows := make([]Row, 0, len(s))
	for _, row := range s {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, errA := strconv.ParseInt(rows[i].ID, 10, 64)
		b, errB := strconv.ParseInt(rows[j].ID, 10, 64)
		switch {
		case errA == nil && errB == nil && a != b:
			return a < b
		case errA == nil && errB != nil:
			return true
		case errA != nil && errB == nil:
			return false
		default:
			return rows[i].ID < rows[j].ID
		}
	})
	return rows
}

// Encode writes the snapshot as newline-terminated lines, no header.
func Encode(w io.Writer, snap Snapshot) error {
	bw := bufio.NewWriter(w)
	for _, row := range snap.SortedRows() {
		if _, err := bw.WriteString(row.Line()); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Decode reads lines written by Encode. Blank lines are ignored. Lines
// without seven fields are kept as raw rows so a later Replace does not
// drop them. A later line wins over an earlier one with the same id.
func Decode(r io.Reader, log zerolog.Logger) (Snapshot, error) {
	snap := make(Snapshot)
	br := bufio.NewReader(r)

	lineNo := 0
	for {
		text, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
		if text != "" {
			lineNo++
			line := strings.TrimRight(text, "\r\n")
			if strings.TrimSpace(line) != "" {
				row := RowFromLine(line)
				if row.Raw != "" {
					log.Warn().Int("line", lineNo).Str("id", row.ID).Msg("keeping malformed snapshot line as is")
				}
				snap[row.ID] = row
			}
		}
		if err != nil {
			break
		}
	}
	return snap, nil
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(snap Snapshot) []byte {
	var buf bytes.Buffer
	_ = Encode(&buf, snap)
	return buf.Bytes()
}
