package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/tweetscope/models"
	"github.com/use-agent/tweetscope/notify"
)

// SignatureHeader carries "sha256=<hex>" of the HMAC-SHA256 of the body.
const SignatureHeader = "X-Tweetscope-Signature"

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Deliver sends an event synchronously.
// The request body is signed with HMAC-SHA256 if secret is non-empty.
func Deliver(ctx context.Context, client *http.Client, url, secret string, event models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Tweetscope-Webhook/1.0")

	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Sink posts every event it receives to one URL. Each event gets exactly
// one attempt; a failed delivery is reported to the hub, which logs it.
// Closing the sink aborts a delivery in flight and refuses later ones.
type Sink struct {
	id     string
	url    string
	secret string
	client *http.Client

	closed context.Context
	cancel context.CancelFunc
}

// NewSink returns a webhook sink with a fresh id.
func NewSink(url, secret string) *Sink {
	closed, cancel := context.WithCancel(context.Background())
	return &Sink{
		id:     uuid.NewString(),
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		closed: closed,
		cancel: cancel,
	}
}

func (s *Sink) ID() string { return s.id }

func (s *Sink) Deliver(ctx context.Context, ev models.Event) error {
	if s.closed.Err() != nil {
		return notify.ErrSinkClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.closed, cancel)
	defer stop()

	if err := Deliver(ctx, s.client, s.url, s.secret, ev); err != nil {
		if s.closed.Err() != nil {
			return notify.ErrSinkClosed
		}
		return err
	}
	slog.Info("webhook delivered",
		"url", s.url,
		"event", ev.Type,
		"task_id", ev.TaskID,
	)
	return nil
}

func (s *Sink) Close() error {
	s.cancel()
	return nil
}
