package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/host"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/pkg/logging"
)

// signalMessage is the wire shape pushed to every connected watcher,
// mirroring the two host.SignalSink calls (spec §6 "signals emitted
// by the engine").
type signalMessage struct {
	Type       string         `json:"type"`
	UniqueID   string         `json:"unique_id"`
	EntityID   string         `json:"entity_id,omitempty"`
	Value      any            `json:"value,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	StateTag   string         `json:"state_tag,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// signalHub broadcasts host.SignalSink events to every connected
// websocket client, the way pkg/pgnotify.Bus fans a Postgres
// notification out to every subscribed handler — except the
// subscribers here are live websocket connections rather than
// in-process callbacks.
type signalHub struct {
	upgrader websocket.Upgrader
	log      *logging.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan signalMessage
}

func newSignalHub(log *logging.Logger) *signalHub {
	return &signalHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*websocket.Conn]chan signalMessage),
	}
}

// SensorValueUpdated implements host.SignalSink.
func (h *signalHub) SensorValueUpdated(uniqueID, entityID string, value any, attributes map[string]any) {
	h.broadcast(signalMessage{
		Type: "sensor_value_updated", UniqueID: uniqueID, EntityID: entityID,
		Value: value, Attributes: attributes, Timestamp: time.Now(),
	})
}

// SensorStateChanged implements host.SignalSink.
func (h *signalHub) SensorStateChanged(uniqueID string, tag host.SensorStateTag) {
	h.broadcast(signalMessage{
		Type: "sensor_state_changed", UniqueID: uniqueID, StateTag: string(tag), Timestamp: time.Now(),
	})
}

func (h *signalHub) broadcast(msg signalMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.log.WithField("remote", conn.RemoteAddr().String()).Warn("signal hub: slow client dropped a message")
		}
	}
}

// ServeWS upgrades the request to a websocket and streams every
// signal broadcast from that point on until the client disconnects.
func (h *signalHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("signal hub: upgrade failed")
		return
	}
	defer conn.Close()

	ch := make(chan signalMessage, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	for msg := range ch {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
