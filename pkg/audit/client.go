package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/patchgate/pkg/logging"
	"github.com/entrhq/patchgate/pkg/preflight"
)

// DefaultSinkTimeout bounds a single sink delivery.
const DefaultSinkTimeout = 5 * time.Second

// Sink receives audit events.
type Sink interface {
	Name() string
	Record(ctx context.Context, e Event) error
}

// Client fans events out to sinks on background goroutines. A nil *Client
// is valid and drops every event.
type Client struct {
	sinks   []Sink
	logger  *logging.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSinkTimeout overrides DefaultSinkTimeout.
func WithSinkTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client delivering to sinks.
func NewClient(sinks []Sink, opts ...ClientOption) *Client {
	c := &Client{
		sinks:   sinks,
		logger:  logging.Discard(),
		timeout: DefaultSinkTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Emit stamps e and delivers it asynchronously. It never blocks on a sink.
func (c *Client) Emit(ctx context.Context, e Event) {
	if c == nil || len(c.sinks) == 0 {
		return
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	base := context.WithoutCancel(ctx)
	for _, sink := range c.sinks {
		c.wg.Add(1)
		go func(sink Sink) {
			defer c.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					c.logger.Errorf("audit sink %s panicked: %v", sink.Name(), r)
				}
			}()

			sctx, cancel := context.WithTimeout(base, c.timeout)
			defer cancel()
			if err := sink.Record(sctx, e); err != nil {
				c.logger.Warnf("audit sink %s failed for %s: %v", sink.Name(), e.Kind, err)
			}
		}(sink)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (c *Client) Wait() {
	if c == nil {
		return
	}
	c.wg.Wait()
}

func (c *Client) ExecutionStarted(ctx context.Context, proposalID, executionID, operation string) {
	c.Emit(ctx, Event{
		Kind:        KindExecutionStarted,
		ProposalID:  proposalID,
		ExecutionID: executionID,
		Operation:   operation,
		Status:      "started",
	})
}

func (c *Client) PreflightCompleted(ctx context.Context, proposalID, executionID, operation string, checklist *preflight.Checklist) {
	status := "passed"
	if !checklist.Passed() {
		status = "failed"
	}
	c.Emit(ctx, Event{
		Kind:        KindPreflightCompleted,
		ProposalID:  proposalID,
		ExecutionID: executionID,
		Operation:   operation,
		Status:      status,
		Details:     checklist.Summary(),
		Checklist:   checklist,
	})
}

func (c *Client) ApplyCompleted(ctx context.Context, proposalID, executionID string, info ApplyInfo) {
	status := "succeeded"
	if !info.Success {
		status = "failed"
	}
	c.Emit(ctx, Event{
		Kind:        KindApplyCompleted,
		ProposalID:  proposalID,
		ExecutionID: executionID,
		Operation:   "apply",
		Status:      status,
		Apply:       &info,
	})
}

func (c *Client) ExecutionEnded(ctx context.Context, proposalID, executionID, operation, status, details string) {
	c.Emit(ctx, Event{
		Kind:        KindExecutionEnded,
		ProposalID:  proposalID,
		ExecutionID: executionID,
		Operation:   operation,
		Status:      status,
		Details:     details,
	})
}
