package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	client "github.com/groupvan/go-client"
)

func TestOpenVehicleStream(t *testing.T) {
	headers := make(chan http.Header, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		headers <- req.Header.Clone()

		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		wsjson.Write(req.Context(), conn, client.VehicleEvent{
			Type:      "vehicle_selected",
			Vehicle:   &client.Vehicle{ID: "veh-1", Make: "Ford"},
			SessionID: "sess-ws",
		})
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer server.Close()

	r := newRig(t)
	r.login(t, time.Hour)

	target := "ws" + strings.TrimPrefix(server.URL, "http")
	stream, err := client.OpenVehicleStream(context.Background(), target, r.manager)
	require.NoError(t, err)
	defer stream.Close()

	select {
	case event := <-stream.Events():
		assert.Equal(t, "vehicle_selected", event.Type)
		require.NotNil(t, event.Vehicle)
		assert.Equal(t, "veh-1", event.Vehicle.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	got := <-headers
	assert.Contains(t, got.Get("Authorization"), "Bearer ")
	assert.Equal(t, "GV-JWT-V1", got.Get(client.HeaderAPIVersion))
	assert.Equal(t, "sess-ws", r.manager.SessionPropagator().Current())

	// The channel closes once the server side hangs up.
	select {
	case _, open := <-stream.Events():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close")
	}
}

func TestOpenVehicleStreamUnauthenticated(t *testing.T) {
	r := newRig(t)

	stream, err := client.OpenVehicleStream(context.Background(), "ws://127.0.0.1:0", r.manager)
	require.Error(t, err)
	assert.Nil(t, stream)
	assert.True(t, client.IsMissingTokenError(err))
}
