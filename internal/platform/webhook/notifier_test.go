package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestNotifySignsPayload(t *testing.T) {
	const secret = "topsecret"
	var gotSig string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, err := NewNotifier(srv.URL, secret, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	event := Event{
		Type:      "conflict.detected",
		PatientID: uuid.New(),
		Provider:  "epic",
		Payload:   json.RawMessage(`{"field":"phone"}`),
	}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if gotSig == "" {
		t.Fatal("missing signature header")
	}
	if !VerifySignature(gotBody, secret, gotSig[len("sha256="):]) {
		t.Fatal("signature does not verify")
	}
	var delivered Event
	if err := json.Unmarshal(gotBody, &delivered); err != nil {
		t.Fatal(err)
	}
	if delivered.Type != "conflict.detected" || delivered.ID == uuid.Nil {
		t.Fatalf("unexpected event: %+v", delivered)
	}
}

func TestNotifyRetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewNotifier(srv.URL, "s", zerolog.Nop(), WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), Event{Type: "sync.completed"}); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestNotifyGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := NewNotifier(srv.URL, "s", zerolog.Nop(), WithBackoff(time.Millisecond), WithMaxAttempts(2))
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), Event{Type: "sync.failed"}); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestDisabledNotifierIsNoop(t *testing.T) {
	n, err := NewNotifier("", "", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if n.Enabled() {
		t.Fatal("expected disabled notifier")
	}
	if err := n.Notify(context.Background(), Event{Type: "sync.completed"}); err != nil {
		t.Fatalf("no-op notify must not error: %v", err)
	}
}

func TestNewNotifierRejectsBadScheme(t *testing.T) {
	if _, err := NewNotifier("ftp://example.com/hook", "", zerolog.Nop()); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
}
