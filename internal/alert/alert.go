// Package alert sends the email/webhook notifications spec.md §7 requires
// for latency alarms, CRITICAL bulk-load rejections, and daily reports.
// Grounded on the teacher's notification/rapidmail.go shape — a JSON POST
// to a configured HTTP endpoint — simplified to the single recipient
// channel spec.md's "huyton_alerts" config key names, with
// cenkalti/backoff/v4 retry matching internal/stompy's reconnect pattern
// rather than rapidmail's zip/campaign scheduling machinery, which nothing
// here needs.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Notifier posts alert payloads to a single configured endpoint.
type Notifier struct {
	Endpoint   string
	Program    string
	PublicURL  string // public_url config key; included so a recipient can click through to the health dashboard
	httpClient *http.Client
}

// New builds a Notifier. endpoint is the value of the huyton_alerts config
// key; an empty endpoint makes Send a no-op (alerts disabled). publicURL is
// the public_url config key and may be blank.
func New(program, endpoint, publicURL string) *Notifier {
	return &Notifier{
		Endpoint:   endpoint,
		Program:    program,
		PublicURL:  publicURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// payload is the JSON body posted to Endpoint.
type payload struct {
	Program   string    `json:"program"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	PublicURL string    `json:"public_url,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// Send posts one alert, retrying transient failures with exponential
// back-off (spec.md §7: "User-visible failures surface as email alerts
// with subject lines keyed to the program name and build"). A blank
// Endpoint makes this a no-op so alerts can be disabled in config without
// special-casing every call site.
func (n *Notifier) Send(ctx context.Context, subject, body string) error {
	if n.Endpoint == "" {
		return nil
	}
	msg := payload{Program: n.Program, Subject: subject, Body: body, PublicURL: n.PublicURL, SentAt: time.Now()}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("alert: encode payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 1 * time.Minute
	return backoff.Retry(func() error {
		return n.post(ctx, encoded)
	}, backoff.WithContext(b, ctx))
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err // network error: retryable
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("alert: endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("alert: endpoint returned %d", resp.StatusCode))
	}
	return nil
}

// LatencySubject builds the subject line for a raised/cleared latency alarm.
func LatencySubject(program string, raised bool) string {
	if raised {
		return fmt.Sprintf("[%s] latency alarm raised", program)
	}
	return fmt.Sprintf("[%s] latency alarm cleared", program)
}

// CriticalSubject builds the subject line for a CRITICAL bulk-load
// rejection (spec.md §7 "Duplicate or out-of-order bulk load").
func CriticalSubject(program string) string {
	return fmt.Sprintf("[%s] CRITICAL: bulk load rejected", program)
}
