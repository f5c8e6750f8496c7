package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"codice/core/events"
)

const (
	SignatureHeader = "X-Codice-Signature"
	EventHeader     = "X-Codice-Event"
	DeliveryHeader  = "X-Codice-Delivery"

	defaultQueueSize   = 1024
	defaultMaxAttempts = 5
	defaultBaseBackoff = time.Second
	defaultMaxBackoff  = 5 * time.Minute
)

var (
	ErrInvalidSubscription = errors.New("webhook: invalid subscription")
	ErrDuplicateName       = errors.New("webhook: duplicate subscription name")
)

// Subscription receives committed events whose type starts with one of
// Events. An empty Events list matches everything.
type Subscription struct {
	Name      string
	URL       string
	Secret    string
	Events    []string
	RateLimit int
}

func (s Subscription) matches(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, prefix := range s.Events {
		if strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}

// Delivery is the JSON body posted to subscribers.
type Delivery struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  string            `json:"timestamp"`
}

type task struct {
	sub      *Subscription
	delivery Delivery
	id       string
	attempt  int
}

// Stats reports dispatcher counters.
type Stats struct {
	Delivered uint64
	Failed    uint64
	Dropped   uint64
}

type Option func(*Dispatcher)

func WithHTTPClient(client *http.Client) Option { return func(d *Dispatcher) { d.client = client } }

func WithLogger(logger *slog.Logger) Option { return func(d *Dispatcher) { d.logger = logger } }

func WithQueueSize(n int) Option { return func(d *Dispatcher) { d.queueSize = n } }

func WithMaxAttempts(n int) Option { return func(d *Dispatcher) { d.maxAttempts = n } }

// WithBackoff sets the first retry delay and the cap it doubles up to.
func WithBackoff(base, limit time.Duration) Option {
	return func(d *Dispatcher) {
		d.baseBackoff = base
		d.maxBackoff = limit
	}
}

func WithNowFunc(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// Dispatcher forwards committed ledger events to HTTP subscribers. Emit never
// blocks the node: deliveries are queued and a full queue drops the event.
type Dispatcher struct {
	subs        []Subscription
	client      *http.Client
	logger      *slog.Logger
	limiter     *RateLimiter
	queueSize   int
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	tasks     chan task
	seq       atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func New(subs []Subscription, opts ...Option) (*Dispatcher, error) {
	seen := make(map[string]struct{}, len(subs))
	for i, sub := range subs {
		if strings.TrimSpace(sub.Name) == "" {
			return nil, fmt.Errorf("%w: subscription %d has no name", ErrInvalidSubscription, i)
		}
		if _, ok := seen[sub.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, sub.Name)
		}
		seen[sub.Name] = struct{}{}
		parsed, err := url.Parse(sub.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, fmt.Errorf("%w: %s has invalid url %q", ErrInvalidSubscription, sub.Name, sub.URL)
		}
	}
	d := &Dispatcher{
		subs:        append([]Subscription(nil), subs...),
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      slog.Default(),
		limiter:     NewRateLimiter(time.Minute),
		queueSize:   defaultQueueSize,
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.queueSize <= 0 {
		d.queueSize = defaultQueueSize
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = defaultMaxAttempts
	}
	d.tasks = make(chan task, d.queueSize)
	return d, nil
}

// Emit implements events.Emitter.
func (d *Dispatcher) Emit(evt events.Event) {
	canonical := events.Canonical(evt).Clone()
	if canonical == nil {
		return
	}
	delivery := Delivery{
		Sequence:   d.seq.Add(1),
		Type:       canonical.Type,
		Attributes: canonical.Attributes,
		Timestamp:  d.now().UTC().Format(time.RFC3339Nano),
	}
	for i := range d.subs {
		sub := &d.subs[i]
		if !sub.matches(delivery.Type) {
			continue
		}
		d.enqueue(task{sub: sub, delivery: delivery, id: uuid.NewString()})
	}
}

func (d *Dispatcher) enqueue(t task) {
	select {
	case d.tasks <- t:
	default:
		d.dropped.Add(1)
		d.logger.Warn("webhook queue full, dropping delivery",
			slog.String("subscription", t.sub.Name),
			slog.String("event", t.delivery.Type),
			slog.Uint64("sequence", t.delivery.Sequence))
	}
}

// later re-queues t after delay unless ctx ends first.
func (d *Dispatcher) later(ctx context.Context, t task, delay time.Duration) {
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			d.enqueue(t)
		}
	}()
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.tasks:
			d.handle(ctx, t)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, t task) {
	now := d.now()
	if !d.limiter.Allow(t.sub.Name, t.sub.RateLimit, now) {
		d.later(ctx, t, d.limiter.ResetAt(t.sub.Name, now).Sub(now))
		return
	}
	err := d.deliver(ctx, t)
	if err == nil {
		d.delivered.Add(1)
		return
	}
	t.attempt++
	if t.attempt >= d.maxAttempts {
		d.failed.Add(1)
		d.logger.Error("webhook delivery abandoned",
			slog.String("subscription", t.sub.Name),
			slog.String("event", t.delivery.Type),
			slog.Int("attempts", t.attempt),
			slog.Any("error", err))
		return
	}
	delay := d.backoff(t.attempt)
	d.logger.Warn("webhook delivery failed, retrying",
		slog.String("subscription", t.sub.Name),
		slog.Int("attempt", t.attempt),
		slog.Duration("retryIn", delay),
		slog.Any("error", err))
	d.later(ctx, t, delay)
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	delay := d.baseBackoff << uint(attempt-1)
	if delay <= 0 || (d.maxBackoff > 0 && delay > d.maxBackoff) {
		return d.maxBackoff
	}
	return delay
}

func (d *Dispatcher) deliver(ctx context.Context, t task) error {
	payload, err := json.Marshal(t.delivery)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.sub.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, t.delivery.Type)
	req.Header.Set(DeliveryHeader, t.id)
	if t.sub.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(t.sub.Secret, payload))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s responded %s", t.sub.Name, resp.Status)
	}
	return nil
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// Sign returns the signature header value for payload: "sha256=" followed by
// the hex HMAC-SHA256 under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
