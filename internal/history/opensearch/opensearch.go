// Package opensearch indexes recording and test run history into an
// OpenSearch (or Elasticsearch) index over the REST document API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/pwstudio/internal/history"
)

// Sink writes one document per event. Documents are stored under a stable
// id of the form "<record id>.<event type>", so a retried send overwrites
// instead of duplicating.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

// document is the flattened shape dashboards query. Kind separates
// recordings from runs without parsing the event type.
type document struct {
	Timestamp  time.Time  `json:"@timestamp"`
	Kind       string     `json:"kind"`
	Event      string     `json:"event"`
	ID         string     `json:"id"`
	Target     string     `json:"target"`
	PID        int        `json:"pid,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExitCode   int        `json:"exit_code"`
	Bytes      int        `json:"bytes"`
	Outcome    string     `json:"outcome,omitempty"`
	Reused     bool       `json:"reused"`
}

func kindOf(t history.EventType) string {
	if t == history.EventRunFinished {
		return "run"
	}
	return "recording"
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func toDocument(e history.Event) document {
	r := e.Record
	return document{
		Timestamp:  e.OccurredAt.UTC(),
		Kind:       kindOf(e.Type),
		Event:      string(e.Type),
		ID:         r.ID,
		Target:     r.Target,
		PID:        r.PID,
		StartedAt:  optTime(r.StartedAt),
		FinishedAt: optTime(r.FinishedAt),
		ExitCode:   r.ExitCode,
		Bytes:      r.Bytes,
		Outcome:    r.Outcome,
		Reused:     r.Reused,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(toDocument(e))
	if err != nil {
		return err
	}
	method, u := http.MethodPost, fmt.Sprintf("%s/%s/_doc", s.baseURL, url.PathEscape(s.index))
	if e.Record.ID != "" {
		method = http.MethodPut
		u += "/" + url.PathEscape(e.Record.ID+"."+string(e.Type))
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		if len(msg) > 0 {
			return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		}
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}
