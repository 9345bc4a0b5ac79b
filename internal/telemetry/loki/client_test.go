package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jobs-admin/client/internal/telemetry"
)

func TestNewEmitter_DisabledWithoutURL(t *testing.T) {
	e := NewEmitter("  ", nil)
	if e != nil {
		t.Fatal("expected nil emitter for empty URL")
	}
	if err := e.Emit(context.Background(), telemetry.NewEvent(telemetry.EventLogin)); err != nil {
		t.Errorf("nil emitter Emit: %v", err)
	}
}

func TestEmitter_Emit(t *testing.T) {
	var got PushRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ev := telemetry.NewEvent(telemetry.EventForcedLogout)
	ev.UserID = "42"
	ev.Source = "auth state"
	ev.CreatedAt = time.Unix(1700000000, 5).UTC()

	if err := NewEmitter(srv.URL+"/", srv.Client()).Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if path != pushPath {
		t.Errorf("path = %q, want %q", path, pushPath)
	}
	if len(got.Streams) != 1 || len(got.Streams[0].Values) != 1 {
		t.Fatalf("push body = %+v", got)
	}
	s := got.Streams[0]
	if s.Stream["job"] != "jobsadmin" || s.Stream["event_type"] != "auth.forced_logout" || s.Stream["source"] != "auth_state" {
		t.Errorf("labels = %v", s.Stream)
	}
	if _, ok := s.Stream["user_id"]; ok {
		t.Error("user id must not be a label")
	}
	if s.Values[0][0] != "1700000000000000005" {
		t.Errorf("timestamp = %s", s.Values[0][0])
	}
	if !strings.Contains(s.Values[0][1], `"user_id":"42"`) {
		t.Errorf("line = %s", s.Values[0][1])
	}
}

func TestEmitter_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewEmitter(srv.URL, nil).Emit(context.Background(), telemetry.NewEvent(telemetry.EventLogin))
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want push status error", err)
	}
}
