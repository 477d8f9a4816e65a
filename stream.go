package client

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// VehicleEvent is one message from the vehicle event stream. Events that
// carry a session id update the shared SessionPropagator before delivery.
type VehicleEvent struct {
	Type      string         `json:"type"`
	Vehicle   *Vehicle       `json:"vehicle,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// VehicleStream is a live websocket feed of vehicle selection events. Events
// arrive on Events until the stream ends; the channel is then closed and Err
// reports why.
type VehicleStream struct {
	conn       *websocket.Conn
	propagator *SessionPropagator
	events     chan VehicleEvent
	cancel     context.CancelFunc

	mu  sync.Mutex
	err error
}

// OpenVehicleStream dials the vehicle event endpoint with the manager's
// current credentials. The target is the full ws:// or wss:// URL. Closing
// the stream or cancelling ctx ends the feed.
func OpenVehicleStream(ctx context.Context, target string, manager *AuthManager) (*VehicleStream, error) {
	token, err := manager.GetValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set(HeaderAPIVersion, apiVersionValue)
	if id := manager.SessionPropagator().Current(); id != "" {
		header.Set(HeaderSessionID, id)
	}

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, errWithMeta(ErrNetwork, err, map[string]any{"target": target})
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &VehicleStream{
		conn:       conn,
		propagator: manager.SessionPropagator(),
		events:     make(chan VehicleEvent, 16),
		cancel:     cancel,
	}
	go s.readLoop(streamCtx)

	return s, nil
}

func (s *VehicleStream) readLoop(ctx context.Context) {
	defer close(s.events)
	for {
		var event VehicleEvent
		if err := wsjson.Read(ctx, s.conn, &event); err != nil {
			s.setErr(err)
			return
		}
		if event.SessionID != "" {
			s.propagator.Update(event.SessionID)
		}
		select {
		case s.events <- event:
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		}
	}
}

// Events returns the event channel. It is closed when the stream ends.
func (s *VehicleStream) Events() <-chan VehicleEvent {
	return s.events
}

// Err reports why the stream ended, or nil while it is still live.
func (s *VehicleStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *VehicleStream) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Close ends the stream and releases the connection.
func (s *VehicleStream) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "client closed")
}
