package qstash

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPublish(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth, gotRetries string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRetries = r.Header.Get("Upstash-Retries")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"messageId":"msg_1"}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: server.URL, Token: "tok", Retries: 2})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	res, err := client.Publish(context.Background(), "leads-qualified", map[string]string{"lead_id": "l1"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if res.MessageID != "msg_1" {
		t.Fatalf("message id = %q", res.MessageID)
	}
	if gotPath != "/v2/publish/leads-qualified" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" || gotRetries != "2" {
		t.Fatalf("unexpected headers auth=%q retries=%q", gotAuth, gotRetries)
	}
	if gotBody["lead_id"] != "l1" {
		t.Fatalf("unexpected body: %#v", gotBody)
	}
}

func TestPublishHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad token"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client := MustNew(Config{URL: server.URL, Token: "tok"})
	if _, err := client.Publish(context.Background(), "dest", map[string]string{}); err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{URL: "", Token: "tok"}); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := NewClient(Config{URL: "https://qstash.upstash.io", Token: " "}); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := NewClient(Config{URL: "not a url", Token: "tok"}); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestPublishRequiresDestination(t *testing.T) {
	t.Parallel()

	client := MustNew(Config{URL: "https://qstash.upstash.io", Token: "tok"})
	if _, err := client.Publish(context.Background(), " ", nil); err == nil {
		t.Fatal("expected error for empty destination")
	}
}
