// Package presence shares collaborator state for a project over Redis.
//
// Components being edited are tracked per client in a set at
// <prefix>:<projectId>:inuse:<componentId>. Pointer positions live in the
// hash <prefix>:<projectId>:pointers keyed by client id. Every change is
// also published as an Event on <prefix>:<projectId>:events.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/threatmodel/redisconn"
)

// DefaultPrefix namespaces presence keys and channels.
const DefaultPrefix = "presence"

// EventType identifies a presence event.
type EventType string

const (
	EventInUse    EventType = "in_use"
	EventReleased EventType = "released"
	EventPointer  EventType = "pointer"
	EventLeft     EventType = "left"
)

// Event is a change announced by one client.
type Event struct {
	Type        EventType `json:"type"`
	ProjectID   string    `json:"projectId"`
	ClientID    string    `json:"clientId"`
	ComponentID string    `json:"componentId,omitempty"`
	Pointer     *Pointer  `json:"pointer,omitempty"`
	At          time.Time `json:"at"`
}

// Pointer is a client's cursor position on the canvas.
type Pointer struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Options configures a Tracker.
type Options struct {
	redisconn.Options

	// Prefix namespaces keys. Empty means DefaultPrefix.
	Prefix string

	Logger *slog.Logger
}

// Tracker publishes one client's presence in one project and reads everyone
// else's.
type Tracker struct {
	client    *redis.Client
	prefix    string
	projectID string
	clientID  string
	now       func() time.Time
	logger    *slog.Logger
}

// New connects to Redis and returns a Tracker for clientID in projectID.
func New(projectID, clientID string, opts Options) (*Tracker, error) {
	client, err := redisconn.Dial(opts.Options)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, projectID, clientID, opts.Prefix, opts.Logger)
}

// NewWithClient wraps an existing client. The Tracker closes it on Close.
func NewWithClient(client *redis.Client, projectID, clientID, prefix string, logger *slog.Logger) (*Tracker, error) {
	if projectID == "" || clientID == "" {
		return nil, errors.New("presence: project id and client id are required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		client:    client,
		prefix:    prefix,
		projectID: projectID,
		clientID:  clientID,
		now:       time.Now,
		logger:    logger.With("project_id", projectID, "client_id", clientID),
	}, nil
}

// ClientID returns the id this tracker publishes as.
func (t *Tracker) ClientID() string {
	return t.clientID
}

func (t *Tracker) inUseKey(componentID string) string {
	return redisconn.Key(t.prefix, t.projectID, "inuse", componentID)
}

func (t *Tracker) pointersKey() string {
	return redisconn.Key(t.prefix, t.projectID, "pointers")
}

func (t *Tracker) channel() string {
	return redisconn.Key(t.prefix, t.projectID, "events")
}

func (t *Tracker) event(typ EventType) Event {
	return Event{Type: typ, ProjectID: t.projectID, ClientID: t.clientID, At: t.now().UTC()}
}

func (t *Tracker) publish(ctx context.Context, pipe redis.Pipeliner, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	pipe.Publish(ctx, t.channel(), data)
	return nil
}

// MarkInUse records that this client is editing the component. Marking a
// component twice is the same as marking it once.
func (t *Tracker) MarkInUse(ctx context.Context, componentID string) error {
	ev := t.event(EventInUse)
	ev.ComponentID = componentID
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, t.inUseKey(componentID), t.clientID)
		return t.publish(ctx, pipe, ev)
	})
	if err != nil {
		return fmt.Errorf("failed to mark component %s in use: %w", componentID, err)
	}
	return nil
}

// Release removes this client's mark on the component.
func (t *Tracker) Release(ctx context.Context, componentID string) error {
	ev := t.event(EventReleased)
	ev.ComponentID = componentID
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, t.inUseKey(componentID), t.clientID)
		return t.publish(ctx, pipe, ev)
	})
	if err != nil {
		return fmt.Errorf("failed to release component %s: %w", componentID, err)
	}
	return nil
}

// Users returns the clients editing the component, sorted.
func (t *Tracker) Users(ctx context.Context, componentID string) ([]string, error) {
	ids, err := t.client.SMembers(ctx, t.inUseKey(componentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read users of component %s: %w", componentID, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// InUseByOthers reports whether a client other than this one edits the
// component.
func (t *Tracker) InUseByOthers(ctx context.Context, componentID string) (bool, error) {
	ids, err := t.Users(ctx, componentID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id != t.clientID {
			return true, nil
		}
	}
	return false, nil
}

// MovePointer publishes this client's pointer position.
func (t *Tracker) MovePointer(ctx context.Context, x, y float64) error {
	p := Pointer{X: x, Y: y}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pointer: %w", err)
	}
	ev := t.event(EventPointer)
	ev.Pointer = &p
	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, t.pointersKey(), t.clientID, string(data))
		return t.publish(ctx, pipe, ev)
	})
	if err != nil {
		return fmt.Errorf("failed to publish pointer: %w", err)
	}
	return nil
}

// Pointers returns the last known pointer of every client in the project.
// Malformed entries are skipped.
func (t *Tracker) Pointers(ctx context.Context) (map[string]Pointer, error) {
	raw, err := t.client.HGetAll(ctx, t.pointersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pointers: %w", err)
	}
	out := make(map[string]Pointer, len(raw))
	for id, v := range raw {
		var p Pointer
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			t.logger.Warn("skipping malformed pointer", "peer", id, "error", err)
			continue
		}
		out[id] = p
	}
	return out, nil
}

// Leave drops this client's pointer and releases the given components.
func (t *Tracker) Leave(ctx context.Context, componentIDs []string) error {
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range componentIDs {
			pipe.SRem(ctx, t.inUseKey(id), t.clientID)
		}
		pipe.HDel(ctx, t.pointersKey(), t.clientID)
		return t.publish(ctx, pipe, t.event(EventLeft))
	})
	if err != nil {
		return fmt.Errorf("failed to leave project: %w", err)
	}
	return nil
}

// Subscribe streams events from other clients of the project until ctx is
// done. Events published by this tracker are filtered out.
func (t *Tracker) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := t.client.Subscribe(ctx, t.channel())

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", t.channel(), err)
	}

	events := make(chan Event)

	go func() {
		defer close(events)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					t.logger.Warn("dropping malformed presence event", "error", err)
					continue
				}
				if ev.ClientID == t.clientID {
					continue
				}

				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

// Ping checks the Redis connection.
func (t *Tracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (t *Tracker) Close() error {
	return t.client.Close()
}
