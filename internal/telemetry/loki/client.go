// Package loki pushes auth lifecycle events to Grafana Loki as log lines.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"jobs-admin/client/internal/telemetry"
)

const pushPath = "/loki/api/v1/push"

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters we avoid in label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:.]`)

// Emitter is a telemetry.EventEmitter writing one Loki line per event. The line is the
// event JSON; event type and source become stream labels. User ids stay in the line, not
// the labels, to keep stream cardinality low.
type Emitter struct {
	url    string
	client *http.Client
}

// NewEmitter returns an emitter pushing to baseURL (e.g. http://localhost:3100), or nil when
// baseURL is empty. A nil client uses http.DefaultClient.
func NewEmitter(baseURL string, client *http.Client) *Emitter {
	if strings.TrimSpace(baseURL) == "" {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Emitter{url: strings.TrimSuffix(baseURL, "/") + pushPath, client: client}
}

// Emit pushes event. A nil emitter drops it.
func (e *Emitter) Emit(ctx context.Context, event *telemetry.Event) error {
	if e == nil || event == nil {
		return nil
	}
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	labels := map[string]string{"event_type": event.Type, "source": event.Source}
	return e.push(ctx, ts, string(line), labels)
}

func (e *Emitter) push(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = "jobsadmin"
	for k, v := range labels {
		if sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	payload, err := json.Marshal(PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
		}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}

var _ telemetry.EventEmitter = (*Emitter)(nil)
