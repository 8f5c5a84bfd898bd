// Package poller drives the client side of the PIN protocol: an adaptive
// polling loop over the status endpoint, one instance per open trade view.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/swappo/pin-server-go/internal/client"
	"github.com/swappo/pin-server-go/internal/config"
	apperrors "github.com/swappo/pin-server-go/internal/errors"
)

// State is the derived display state of a trade's PIN.
type State string

const (
	StateNoPin    State = "NO_PIN"
	StateActive   State = "ACTIVE"
	StateExpired  State = "EXPIRED"
	StateVerified State = "VERIFIED"
)

const (
	transientFetchRetries = 3
	expiringSoonWindow    = time.Hour
)

// StatusSource is the slice of the API client the poller needs.
type StatusSource interface {
	PinStatus(ctx context.Context, tradeID string) (*client.PinStatus, error)
}

// Intervals is the config-driven polling cadence per state. Terminal
// states (EXPIRED, VERIFIED) stop the loop and have no interval.
type Intervals struct {
	NoPin         time.Duration
	Active        time.Duration
	CountdownTick time.Duration
}

// IntervalsFrom maps the shared poll settings onto the poller's cadence.
func IntervalsFrom(settings *config.PollSettings) Intervals {
	return Intervals{
		NoPin:         settings.PollNoPinInterval(),
		Active:        settings.PollActiveInterval(),
		CountdownTick: config.CountdownTickInterval,
	}
}

// Update is one rendered snapshot of PIN state, delivered to the view on
// every poll and once a minute while a countdown is running.
type Update struct {
	State        State
	Role         string
	Code         string
	Countdown    string
	ExpiringSoon bool
	Generation   int
	GeneratedAt  time.Time
	ExpiresAt    time.Time
}

type Poller struct {
	source    StatusSource
	tradeID   string
	intervals Intervals
	onUpdate  func(Update)
	now       func() time.Time

	current Update
	seen    bool
}

func New(source StatusSource, tradeID string, intervals Intervals, onUpdate func(Update)) *Poller {
	if intervals.CountdownTick <= 0 {
		intervals.CountdownTick = time.Minute
	}
	return &Poller{
		source:    source,
		tradeID:   tradeID,
		intervals: intervals,
		onUpdate:  onUpdate,
		now:       time.Now,
	}
}

// Run polls until the PIN reaches a terminal state or ctx is cancelled.
// Cancelling only stops the loop; it never cancels a request that has
// already been handed to the transport.
func (p *Poller) Run(ctx context.Context) error {
	for {
		status, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if p.apply(status) {
			p.emit()
		}

		switch p.current.State {
		case StateVerified, StateExpired:
			return nil
		}

		if err := p.wait(ctx); err != nil {
			return err
		}
	}
}

// fetch retrieves status, retrying transient failures with capped
// exponential backoff. Caller-fault API errors are not retried:
// NOT_AUTHORIZED or a validation failure will not fix itself, but a
// server-side hiccup or a rate limit might.
func (p *Poller) fetch(ctx context.Context) (*client.PinStatus, error) {
	var status *client.PinStatus
	op := func() error {
		s, err := p.source.PinStatus(ctx, p.tradeID)
		if err != nil {
			if isPermanentFetchError(err) {
				return backoff.Permanent(err)
			}
			log.Debug().Err(err).Str("tradeId", p.tradeID).Msg("transient status fetch failure")
			return err
		}
		status = s
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), transientFetchRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return status, nil
}

func isPermanentFetchError(err error) bool {
	if !apperrors.IsAppError(err) {
		return false
	}
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInternal, apperrors.ErrCodeDatabase, apperrors.ErrCodeRateLimitExceeded:
		return false
	}
	return true
}

// apply folds a status response into the current snapshot. It returns
// false when the response is stale — older than what is already rendered,
// e.g. a poll that was in flight across a regenerate — in which case the
// snapshot is left untouched.
func (p *Poller) apply(status *client.PinStatus) bool {
	if status.Pin != nil && p.seen {
		if status.Pin.Generation < p.current.Generation {
			return false
		}
		if status.Pin.Generation == p.current.Generation &&
			status.Pin.GeneratedAt.Before(p.current.GeneratedAt) {
			return false
		}
	}

	next := Update{Role: status.UserRole}
	if status.Pin == nil || !status.PinExists {
		next.State = StateNoPin
	} else {
		pin := status.Pin
		next.Code = pin.PinCode
		next.Generation = pin.Generation
		next.GeneratedAt = pin.GeneratedAt
		next.ExpiresAt = pin.ExpiresAt

		switch {
		case pin.IsVerified:
			next.State = StateVerified
		case pin.IsExpired:
			next.State = StateExpired
			next.Countdown = FormatRemaining(0)
		default:
			next.State = StateActive
			remaining := pin.ExpiresAt.Sub(p.now())
			next.Countdown = FormatRemaining(remaining)
			next.ExpiringSoon = remaining > 0 && remaining <= expiringSoonWindow
		}
	}

	p.current = next
	p.seen = true
	return true
}

// wait sleeps until the next poll is due. While the PIN is active it also
// recomputes the countdown once per tick without touching the network;
// the countdown reaching zero ends the wait early so the next iteration
// reconciles with the server's authoritative isExpired.
func (p *Poller) wait(ctx context.Context) error {
	interval := p.intervals.Active
	if p.current.State == StateNoPin {
		interval = p.intervals.NoPin
	}

	pollTimer := time.NewTimer(interval)
	defer pollTimer.Stop()

	var tick <-chan time.Time
	if p.current.State == StateActive {
		ticker := time.NewTicker(p.intervals.CountdownTick)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pollTimer.C:
			return nil
		case <-tick:
			remaining := p.current.ExpiresAt.Sub(p.now())
			p.current.Countdown = FormatRemaining(remaining)
			p.current.ExpiringSoon = remaining > 0 && remaining <= expiringSoonWindow
			if remaining <= 0 {
				p.current.State = StateExpired
			}
			p.emit()
			if remaining <= 0 {
				return nil
			}
		}
	}
}

func (p *Poller) emit() {
	if p.onUpdate != nil {
		p.onUpdate(p.current)
	}
}

// FormatRemaining renders a human-readable countdown, matching the
// trade view's display ("2h 5m remaining", "45m remaining", "Expired").
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "Expired"
	}

	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)

	if hours > 0 {
		return fmt.Sprintf("%dh %dm remaining", hours, minutes)
	}
	return fmt.Sprintf("%dm remaining", minutes)
}
