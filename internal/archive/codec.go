package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"

	"parkstatus-backend/internal/model"
)

var (
	// ErrDecompression marks a blob that could not be inflated.
	ErrDecompression = errors.New("archive: decompression failed")
	// ErrMalformedArchive marks a blob whose top-level JSON shape is not an
	// event array or an {"events": [...]} object.
	ErrMalformedArchive = errors.New("archive: malformed archive structure")
)

// QueueType identifies one kind of queue attached to an event.
type QueueType string

const (
	QueueStandby        QueueType = "STANDBY"
	QueueSingleRider    QueueType = "SINGLE_RIDER"
	QueueReturnTime     QueueType = "RETURN_TIME"
	QueuePaidReturnTime QueueType = "PAID_RETURN_TIME"
	QueueBoardingGroup  QueueType = "BOARDING_GROUP"
)

// Queue is one queue observation within an event.
type Queue struct {
	Type        QueueType
	WaitTime    *int
	ReturnStart *time.Time
	ReturnEnd   *time.Time
	Price       *Price
	State       string
}

// Price is a monetary amount in minor units.
type Price struct {
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

// Event is one status observation for one attraction at one instant. Events
// are transient: only their resolved projection is ever persisted.
type Event struct {
	EntityID      string
	Name          string
	Status        model.Status
	EventTime     time.Time
	Queues        []Queue
	Showtimes     []time.Time
	ParkID        string
	ParkSlug      string
	DestinationID string
}

// WaitTime returns the standby wait in minutes, or nil when no standby queue
// reported one.
func (e *Event) WaitTime() *int {
	for i := range e.Queues {
		if e.Queues[i].Type == QueueStandby && e.Queues[i].WaitTime != nil {
			return e.Queues[i].WaitTime
		}
	}
	return nil
}

// IsShow reports whether the event describes a show rather than a ride.
func (e *Event) IsShow() bool {
	return len(e.Showtimes) > 0
}

// Counters is a snapshot of codec activity.
type Counters struct {
	FilesParsed  int64
	EventsParsed int64
	Errors       int64
}

// Codec decompresses archive blobs and decodes them into events. It is a pure
// transformation; the only state it keeps is its counters. A Codec is not
// safe for concurrent use.
type Codec struct {
	counters Counters
}

// NewCodec returns a Codec with zeroed counters.
func NewCodec() *Codec {
	return &Codec{}
}

// Counters returns a copy of the current counters.
func (c *Codec) Counters() Counters {
	return c.counters
}

// ResetCounters zeroes all counters.
func (c *Codec) ResetCounters() {
	c.counters = Counters{}
}

// Decompress inflates a zlib-compressed blob.
func (c *Codec) Decompress(blob []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	return out, nil
}

// Parse decodes a JSON blob into events. The top level may be a bare array or
// an object with an "events" array; anything else fails with
// ErrMalformedArchive. Individual events decode independently: a bad element
// increments the error counter and is skipped.
func (c *Codec) Parse(blob []byte) ([]Event, error) {
	raws, err := topLevelEvents(blob)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		ev, err := decodeEvent(raw)
		if err != nil {
			c.counters.Errors++
			continue
		}
		events = append(events, ev)
		c.counters.EventsParsed++
	}

	c.counters.FilesParsed++
	return events, nil
}

// ParseCompressed is Decompress followed by Parse.
func (c *Codec) ParseCompressed(blob []byte) ([]Event, error) {
	inflated, err := c.Decompress(blob)
	if err != nil {
		return nil, err
	}
	return c.Parse(inflated)
}

func topLevelEvents(blob []byte) ([]json.RawMessage, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(blob, &raws); err == nil {
		return raws, nil
	}

	var wrapper struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(blob, &wrapper); err != nil || wrapper.Events == nil {
		return nil, fmt.Errorf("%w: expected array or events object", ErrMalformedArchive)
	}
	return wrapper.Events, nil
}

// rawEvent is the wire shape of a single archive record.
type rawEvent struct {
	EntityID      string     `json:"entity_id"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	EventTime     string     `json:"event_time"`
	Queues        []rawQueue `json:"queues"`
	Showtimes     []string   `json:"showtimes"`
	ParkID        string     `json:"park_id"`
	ParkSlug      string     `json:"park_slug"`
	DestinationID string     `json:"destination_id"`
}

type rawQueue struct {
	Type        string `json:"queue_type"`
	WaitTime    *int   `json:"wait_time"`
	ReturnStart string `json:"return_start"`
	ReturnEnd   string `json:"return_end"`
	Price       *Price `json:"price"`
	State       string `json:"state"`
}

func decodeEvent(raw json.RawMessage) (Event, error) {
	var re rawEvent
	if err := json.Unmarshal(raw, &re); err != nil {
		return Event{}, err
	}

	if re.EntityID == "" {
		return Event{}, errors.New("event missing entity_id")
	}

	eventTime := ParseTimestamp(re.EventTime)
	if eventTime == nil {
		return Event{}, fmt.Errorf("unparsable event_time %q", re.EventTime)
	}

	ev := Event{
		EntityID:      re.EntityID,
		Name:          re.Name,
		Status:        model.ParseStatus(re.Status),
		EventTime:     *eventTime,
		ParkID:        re.ParkID,
		ParkSlug:      re.ParkSlug,
		DestinationID: re.DestinationID,
	}

	for _, rq := range re.Queues {
		q := Queue{
			Type:     QueueType(strings.ToUpper(rq.Type)),
			WaitTime: rq.WaitTime,
			Price:    rq.Price,
			State:    rq.State,
		}
		// Return windows are optional; a bad value is simply absent.
		q.ReturnStart = ParseTimestamp(rq.ReturnStart)
		q.ReturnEnd = ParseTimestamp(rq.ReturnEnd)
		ev.Queues = append(ev.Queues, q)
	}

	for _, st := range re.Showtimes {
		if t := ParseTimestamp(st); t != nil {
			ev.Showtimes = append(ev.Showtimes, *t)
		}
	}

	return ev, nil
}

// timestampLayouts are tried in order before the generic fallback.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05-07:00",
}

// ParseTimestamp parses an archive timestamp into a UTC instant. It tries the
// known layouts first and falls back to RFC3339 with "Z" rewritten to an
// explicit offset. Returns nil when nothing matches.
func ParseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			utc := t.UTC()
			return &utc
		}
	}

	fallback := s
	if strings.HasSuffix(fallback, "Z") {
		fallback = strings.TrimSuffix(fallback, "Z") + "+00:00"
	}
	if t, err := time.Parse(time.RFC3339Nano, fallback); err == nil {
		utc := t.UTC()
		return &utc
	}
	return nil
}
