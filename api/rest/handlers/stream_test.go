package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"splat-orchestrator/core/events"
	"splat-orchestrator/core/models"

	"github.com/gorilla/websocket"
)

func waitSubscribers(t *testing.T, b *events.Broadcaster, room string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers(room) != want {
		if time.Now().After(deadline) {
			t.Fatalf("room %s has %d subscribers, want %d", room, b.Subscribers(room), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dialStream(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() err=%v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	return ws
}

func TestStreamPushesRoomEvents(t *testing.T) {
	b := events.NewBroadcaster()
	srv := httptest.NewServer(http.HandlerFunc(NewStreamHandler(b).Serve))
	defer srv.Close()

	ws := dialStream(t, srv, "?userId=u1&projectName=garden")
	defer ws.Close()
	waitSubscribers(t, b, "u1_garden", 1)

	b.Publish(context.Background(), "u1_other", models.StatusEvent{Step: models.StepTrain, Status: models.StatusRunning})
	b.Publish(context.Background(), "u1_garden", models.StatusEvent{Step: models.StepTrain, Status: models.StatusRunning, Message: "Training model..."})

	var got map[string]interface{}
	if err := ws.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON() err=%v", err)
	}
	if got["type"] != "trainingStatus" || got["room"] != "u1_garden" || got["message"] != "Training model..." {
		t.Errorf("message = %v", got)
	}

	ws.Close()
	waitSubscribers(t, b, "u1_garden", 0)
}

func TestStreamJoinAndPing(t *testing.T) {
	b := events.NewBroadcaster()
	srv := httptest.NewServer(http.HandlerFunc(NewStreamHandler(b).Serve))
	defer srv.Close()

	ws := dialStream(t, srv, "")
	defer ws.Close()

	if err := ws.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	var pong map[string]interface{}
	if err := ws.ReadJSON(&pong); err != nil || pong["type"] != "pong" {
		t.Fatalf("pong = %v, err=%v", pong, err)
	}

	if err := ws.WriteJSON(map[string]string{"type": "join", "userId": "u2", "projectName": "shed"}); err != nil {
		t.Fatal(err)
	}
	waitSubscribers(t, b, "u2_shed", 1)

	if err := ws.WriteJSON(map[string]string{"type": "join", "userId": "u2", "projectName": "barn"}); err != nil {
		t.Fatal(err)
	}
	waitSubscribers(t, b, "u2_barn", 1)
	waitSubscribers(t, b, "u2_shed", 0)

	b.Publish(context.Background(), "u2_barn", models.StatusEvent{Step: models.StepOverall, Status: models.StatusCompleted})
	var got map[string]interface{}
	if err := ws.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON() err=%v", err)
	}
	if got["room"] != "u2_barn" || got["step"] != string(models.StepOverall) {
		t.Errorf("message = %v", got)
	}
}

func TestStreamRejectsPartialKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(NewStreamHandler(events.NewBroadcaster()).Serve))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?userId=u1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial() expected error")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("response = %v, want 400", resp)
	}
}
