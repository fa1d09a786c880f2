package httpbackend_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/convobridge/gateway/conversation/httpbackend"
)

func TestClient_Conversations_ReturnsMostRecentID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "conv-1"}},
		})
	}))
	defer srv.Close()

	c := httpbackend.New(srv.URL, "key", 2*time.Second)
	id, err := c.Conversations(t.Context(), "+15550100")
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if id != "conv-1" {
		t.Fatalf("id = %q, want conv-1", id)
	}
}

func TestClient_Conversations_NoneFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{}})
	}))
	defer srv.Close()

	c := httpbackend.New(srv.URL, "key", 2*time.Second)
	id, err := c.Conversations(t.Context(), "+15550100")
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if id != "" {
		t.Fatalf("id = %q, want empty", id)
	}
}

func TestClient_SendMessage_ReturnsAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["query"] != "hello" {
			t.Fatalf("query = %v, want hello", body["query"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"answer":          "hi there",
			"conversation_id": "conv-2",
		})
	}))
	defer srv.Close()

	c := httpbackend.New(srv.URL, "key", 2*time.Second)
	reply, err := c.SendMessage(t.Context(), "+15550100", "hello", "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply.Message != "hi there" || reply.ConversationID != "conv-2" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestClient_SendMessage_RetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"answer": "ok"})
	}))
	defer srv.Close()

	c := httpbackend.New(srv.URL, "key", 2*time.Second)
	reply, err := c.SendMessage(t.Context(), "+15550100", "hello", "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply.Message != "ok" {
		t.Fatalf("reply = %+v", reply)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestClient_SendMessage_DoesNotRetryOn4xx(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"bad input"}`))
	}))
	defer srv.Close()

	c := httpbackend.New(srv.URL, "key", 2*time.Second)
	_, err := c.SendMessage(t.Context(), "+15550100", "hello", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("attempts = %d, want 1 (4xx must not retry)", attempts)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := httpbackend.New(srv.URL, "key", 2*time.Second)
	if !c.HealthCheck(t.Context()) {
		t.Fatal("expected healthy")
	}
}
