package activitymap

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-kas/auth"
)

const (
	MetadataKeyActorType  = "actor_type"
	MetadataKeyFromStatus = "from_status"
	MetadataKeyToStatus   = "to_status"
)

const (
	defaultChannel = "kas"
	defaultActorID = "system"
)

// Record is the flat shape written to the audit feed
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*options)

type options struct {
	channel       string
	actorFallback string
	now           func() time.Time
}

func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = strings.TrimSpace(channel)
	}
}

func WithActorFallback(actorID string) Option {
	return func(o *options) {
		o.actorFallback = strings.TrimSpace(actorID)
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.now = clock
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Normalize flattens an activity event. Transaction and weekly payment
// events point at the ledger row, account events at the user.
func Normalize(event auth.ActivityEvent, opts ...Option) Record {
	o := buildOptions(opts)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = o.now()
	}

	objectType := ObjectType(event.EventType)
	objectID := strings.TrimSpace(event.ObjectID)
	if objectID == "" || objectType == "user" {
		objectID = firstNonEmpty(strings.TrimSpace(event.UserID), objectID)
	}

	return Record{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.Actor.ID),
			strings.TrimSpace(event.UserID),
			o.actorFallback,
		),
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    o.channel,
		Metadata:   metadata(event),
		OccurredAt: occurredAt.UTC(),
	}
}

// ObjectType maps an event type to the kind of record it touched
func ObjectType(eventType auth.ActivityEventType) string {
	prefix, _, _ := strings.Cut(string(eventType), ".")
	switch prefix {
	case "transaction":
		return "transaction"
	case "weekly_payment":
		return "weekly_payment"
	case "auth":
		return "session"
	default:
		return "user"
	}
}

// JSONSink writes one normalized record per line to w
func JSONSink(w io.Writer, opts ...Option) auth.ActivitySink {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		record := Normalize(event, opts...)
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(record)
	})
}

// Tee records every event in each sink, the first error is returned
// after all sinks ran.
func Tee(sinks ...auth.ActivitySink) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		var first error
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			if err := sink.Record(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}

func metadata(event auth.ActivityEvent) map[string]any {
	var out map[string]any
	set := func(key string, value any) {
		if out == nil {
			out = make(map[string]any, len(event.Metadata)+3)
		}
		out[key] = value
	}

	for k, v := range event.Metadata {
		set(k, v)
	}
	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if _, exists := out[MetadataKeyActorType]; !exists {
			set(MetadataKeyActorType, actorType)
		}
	}
	if event.FromStatus != "" {
		set(MetadataKeyFromStatus, event.FromStatus)
	}
	if event.ToStatus != "" {
		set(MetadataKeyToStatus, event.ToStatus)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
