// Package feed is the per-session change feed. Writers publish the full new
// row after each write; subscribers receive every event in publish order for
// as long as their subscription is open.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
)

// Event types.
const (
	EventSession     = "session"
	EventParticipant = "participant"
)

// Event is the envelope carried on the wire and relayed to WebSocket clients.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Feed struct {
	client *redis.Client
}

func New(client *redis.Client) *Feed {
	return &Feed{client: client}
}

func Channel(sessionID string) string {
	return "feed:session:" + sessionID
}

func (f *Feed) Publish(ctx context.Context, sessionID, eventType string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	payload, err := json.Marshal(Event{Type: eventType, Data: raw})
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, Channel(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return nil
}

// Subscribe delivers every event for the session to fn until the returned
// cancel func is called or ctx ends. It returns once Redis has confirmed the
// subscription, so no event published afterwards is missed. fn is called from
// a single goroutine and stops being called shortly after cancel.
func (f *Feed) Subscribe(ctx context.Context, sessionID string, fn func(Event)) (func(), error) {
	channel := Channel(sessionID)
	pubsub := f.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
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
					log.Printf("Dropping malformed feed message on %s: %v", channel, err)
					continue
				}
				if ctx.Err() != nil {
					return
				}
				fn(ev)
			}
		}
	}()

	return cancel, nil
}
