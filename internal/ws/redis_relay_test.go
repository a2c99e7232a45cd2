package ws

import (
	"encoding/json"
	"sync"
	"testing"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []string
	bodies []string
}

func (c *capturePublisher) Publish(event string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.bodies = append(c.bodies, string(payload))
}

func TestRelayDeliversForeignEnvelopes(t *testing.T) {
	hub := &capturePublisher{}
	relay := &RedisRelay{origin: "replica-a", hub: hub, log: quietLogger()}

	foreign, _ := json.Marshal(relayEnvelope{Origin: "replica-b", Event: "post.created", Payload: json.RawMessage(`{"action":"create"}`)})
	own, _ := json.Marshal(relayEnvelope{Origin: "replica-a", Event: "post.updated", Payload: json.RawMessage(`{}`)})

	relay.deliver(string(foreign))
	relay.deliver(string(own))
	relay.deliver("not json")

	if len(hub.events) != 1 || hub.events[0] != "post.created" {
		t.Fatalf("events = %v", hub.events)
	}
	if hub.bodies[0] != `{"action":"create"}` {
		t.Fatalf("payload = %s", hub.bodies[0])
	}
}
