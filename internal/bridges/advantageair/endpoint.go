package advantageair

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Endpoint coalesces partial changes for one write target and flushes them
// to the controller with at most one flush in flight.
type Endpoint struct {
	class          EndpointClass
	legacy         bool
	tr             *transport
	coalesceWindow time.Duration
	retryDelay     time.Duration
	logger         Logger

	mu      sync.Mutex
	pending Tree

	// flushMu is only ever taken with TryLock.
	flushMu sync.Mutex
}

func newEndpoint(class EndpointClass, legacy bool, tr *transport, coalesceWindow, retryDelay time.Duration, logger Logger) *Endpoint {
	return &Endpoint{
		class:          class,
		legacy:         legacy,
		tr:             tr,
		coalesceWindow: coalesceWindow,
		retryDelay:     retryDelay,
		logger:         logger,
	}
}

// Class returns the endpoint's write target.
func (e *Endpoint) Class() EndpointClass {
	return e.class
}

// Legacy reports whether the endpoint sends legacy field writes.
func (e *Endpoint) Legacy() bool {
	return e.legacy
}

// SubmitChange merges change into the pending batch and flushes it.
//
// When another call is already flushing, SubmitChange returns (false, nil)
// at once: the change is queued and the active flush will send it. It
// returns (true, nil) once a flush run by this call has sent everything
// pending. A non-nil error means the batch in flight was dropped; changes
// merged after that batch was taken stay queued.
func (e *Endpoint) SubmitChange(ctx context.Context, change Tree) (bool, error) {
	e.mu.Lock()
	e.pending = Update(e.pending, change)
	e.mu.Unlock()

	flushed := false
	for {
		if !e.flushMu.TryLock() {
			return flushed, nil
		}
		err := e.flush(ctx)
		e.flushMu.Unlock()
		if err != nil {
			return false, err
		}
		flushed = true

		// A change merged after the last emptiness check but before
		// Unlock found the lock held and returned; pick it up here.
		if !e.hasPending() {
			return true, nil
		}
	}
}

// Pending returns a copy of the changes not yet sent.
func (e *Endpoint) Pending() Tree {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return nil
	}
	return Clone(e.pending)
}

// flush drains the pending batch. The caller holds flushMu.
func (e *Endpoint) flush(ctx context.Context) error {
	for e.hasPending() {
		if err := sleepContext(ctx, e.coalesceWindow); err != nil {
			return err
		}

		batch := e.take()
		if len(batch) == 0 {
			return nil
		}

		err := e.dispatch(ctx, batch)
		if err == nil {
			continue
		}
		if !isRecoverable(err) {
			return err
		}

		e.requeue(batch)
		e.logger.Warn("controller dropped connection, retrying batch",
			"endpoint", string(e.class),
			"error", err)
		if err := sleepContext(ctx, e.retryDelay); err != nil {
			return fmt.Errorf("retrying %s write: %w", e.class, err)
		}
	}
	return nil
}

func (e *Endpoint) hasPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) > 0
}

// take swaps the pending batch for an empty one.
func (e *Endpoint) take() Tree {
	e.mu.Lock()
	defer e.mu.Unlock()
	batch := e.pending
	e.pending = nil
	return batch
}

// requeue puts a failed batch back underneath anything merged since it was
// taken, so newer values win.
func (e *Endpoint) requeue(batch Tree) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = Update(batch, e.pending)
}

func (e *Endpoint) dispatch(ctx context.Context, batch Tree) error {
	if e.legacy {
		return e.dispatchLegacy(ctx, batch)
	}
	return e.dispatchModern(ctx, batch)
}

// modernAck is the response to a modern set request.
type modernAck struct {
	Ack    *bool  `json:"ack"`
	Reason string `json:"reason"`
}

func (e *Endpoint) dispatchModern(ctx context.Context, batch Tree) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("%w: encoding %s batch: %w", ErrInvalidChange, e.class, err)
	}

	path := e.class.path()
	body, err := e.tr.get(ctx, path+"?json="+url.QueryEscape(string(payload)))
	if err != nil {
		return err
	}

	var ack modernAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return fmt.Errorf("%w: invalid JSON from %s: %w", ErrProtocol, path, err)
	}
	if ack.Ack == nil {
		return fmt.Errorf("%w: %s response has no ack", ErrProtocol, path)
	}
	if !*ack.Ack {
		return &DeviceRejectedError{Endpoint: path, Reason: ack.Reason}
	}

	e.logger.Debug("batch sent", "endpoint", string(e.class), "payload", string(payload))
	return nil
}

func (e *Endpoint) dispatchLegacy(ctx context.Context, batch Tree) error {
	requests, err := legacyRequests(batch)
	if err != nil {
		return err
	}

	for _, req := range requests {
		body, err := e.tr.get(ctx, req)
		if err != nil {
			return err
		}
		doc, err := parseLegacy(body)
		if err != nil {
			return err
		}
		if doc.Ack != "1" {
			return &DeviceRejectedError{Endpoint: requestPath(req), Reason: "ack " + quoteOrEmpty(doc.Ack)}
		}
		e.logger.Debug("legacy field written", "request", req)
	}
	return nil
}

func quoteOrEmpty(s string) string {
	if s == "" {
		return "missing"
	}
	return fmt.Sprintf("%q", s)
}
