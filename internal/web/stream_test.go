package web

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialStream(t *testing.T, api *testAPI, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(api.srv.URL, "http") + "/users/" + userID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", resp.StatusCode)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read stream message: %v", err)
	}
	return msg
}

func TestStream_SnapshotThenUpdates(t *testing.T) {
	api := setupTest(t)
	conn := dialStream(t, api, "user-1")

	snapshot := readMessage(t, conn)
	if snapshot.Type != StreamSnapshot {
		t.Fatalf("first message type = %q, want snapshot", snapshot.Type)
	}
	if snapshot.Context == nil || snapshot.Context.UserID != "user-1" {
		t.Fatalf("snapshot context = %+v", snapshot.Context)
	}

	// Update through the HTTP API.
	if status, out := api.do(t, "PATCH", "/users/user-1/context", `{"availabilityStatus": "dnd"}`); status != http.StatusOK {
		t.Fatalf("PATCH: status = %d: %v", status, out)
	}
	msg := readMessage(t, conn)
	if msg.Type != StreamContextUpdate {
		t.Fatalf("type = %q, want context_update", msg.Type)
	}
	if msg.Context.AvailabilityStatus != "dnd" {
		t.Errorf("status = %q, want dnd", msg.Context.AvailabilityStatus)
	}
	if msg.Entry == nil || msg.Entry.FieldChanged != "availabilityStatus" {
		t.Errorf("entry = %+v", msg.Entry)
	}

	// Update from the client itself.
	if err := conn.WriteJSON(map[string]any{
		"type":    "update",
		"context": map[string]any{"energyLevel": 15},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg = readMessage(t, conn)
	if msg.Type != StreamContextUpdate || msg.Context.EnergyLevel != 15 {
		t.Fatalf("client update echo = %+v", msg)
	}
}

func TestStream_ClientErrors(t *testing.T) {
	api := setupTest(t)
	conn := dialStream(t, api, "user-1")
	readMessage(t, conn)

	tests := []struct {
		name    string
		payload string
		code    string
	}{
		{"not json", `hello`, "INVALID_REQUEST"},
		{"unknown type", `{"type": "delete"}`, "UNRECOGNIZED_ACTION"},
		{"empty update", `{"type": "update", "context": {}}`, "INVALID_REQUEST"},
		{"invalid value", `{"type": "update", "context": {"privacyScope": "secret"}}`, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)); err != nil {
				t.Fatalf("write: %v", err)
			}
			msg := readMessage(t, conn)
			if msg.Type != StreamError || msg.Error == nil {
				t.Fatalf("message = %+v, want error", msg)
			}
			if string(msg.Error.Code) != tt.code {
				t.Errorf("code = %q, want %q", msg.Error.Code, tt.code)
			}
		})
	}
}

func TestStream_ClosesOnShutdown(t *testing.T) {
	api := setupTest(t)
	conn := dialStream(t, api, "user-1")
	readMessage(t, conn)

	api.h.closeStreams()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("err = %v, want going-away close", err)
	}
}

func TestStream_RejectsMissingUser(t *testing.T) {
	api := setupTest(t)

	resp, err := http.Get(api.srv.URL + "/users/%20/ws")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
