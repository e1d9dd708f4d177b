package audit

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestLogSinkRecordsEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	err := sink.Record(context.Background(), Event{
		Action:    "sync.inbound",
		PatientID: uuid.New(),
		Provider:  "epic",
		Actor:     "system",
		Outcome:   "success",
		Detail:    "3/3 resources, 0 conflicts (0 auto-resolved)",
	})
	if err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"sync.inbound", "epic", "success", "audit_id"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestLogSinkFillsDefaults(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	if err := sink.Record(context.Background(), Event{Action: "conflict.resolved", Outcome: "success"}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), `"audit_id":"00000000-`) {
		t.Error("event id was not assigned")
	}
	if !strings.Contains(buf.String(), "recorded") {
		t.Error("recorded timestamp missing")
	}
}
