package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "XGrowth-Chain/internal/errors"
)

type recordingSender struct {
	messages []string
	err      error
}

func (s *recordingSender) Send(_ context.Context, _ string, content string) error {
	s.messages = append(s.messages, content)
	return s.err
}

func TestFromErrorCopiesMetadata(t *testing.T) {
	err := xerrors.New(xerrors.CodeInsufficientReserve, "reserve short",
		xerrors.WithUint(xerrors.MetaRequired, 10),
		xerrors.WithMetadata(xerrors.MetaAgentID, "alpha"))
	ev := FromError(err, "sell", "settling")
	if ev.Code != xerrors.CodeInsufficientReserve || ev.AgentID != "alpha" || ev.Metadata[xerrors.MetaRequired] != "10" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Severity != xerrors.SeverityWarning {
		t.Fatalf("severity = %s", ev.Severity)
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &LogNotifier{}
	failing := &SlackNotifier{Sender: &recordingSender{err: errors.New("down")}, ChannelID: "alerts"}
	d := NewFanout(ok, failing, nil)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeQueueFailure, Message: "queue down", AgentID: "beta"})
	if err == nil || !strings.Contains(err.Error(), "slack") {
		t.Fatalf("expected slack error, got %v", err)
	}
	msgs := failing.Sender.(*recordingSender).messages
	if len(msgs) != 1 || !strings.Contains(msgs[0], "agent=beta") {
		t.Fatalf("unexpected slack payload %v", msgs)
	}

	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op, got %v", err)
	}
}

func TestWebhookSenderPostsJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := &SlackNotifier{Sender: &WebhookSender{URL: srv.URL}, ChannelID: "#alerts"}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeLedgerFailure, Message: "rpc down", Stage: "crank", Attempts: 1}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got["channel"] != "#alerts" || !strings.Contains(got["text"], "rpc down") {
		t.Fatalf("unexpected payload %v", got)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	if err := (&WebhookSender{URL: failing.URL}).Send(context.Background(), "#alerts", "x"); err == nil {
		t.Fatal("expected an error for a 502 response")
	}
}
