// Package ratelimiter throttles mailbox commands with a token bucket.
//
// Hosted IMAP providers answer bursts of commands with BYE or temporary
// lockouts. Wrapping a dialer with Throttle spaces out every session
// command, including the dial itself, so batch operations (delete of many
// identifiers, listing large folders) stay under the provider's limit.
package ratelimiter

import (
	"context"
	"fmt"

	"github.com/marmos91/imapfs/pkg/mailbox"
	"golang.org/x/time/rate"
)

// RateLimiter provides request rate limiting using the token bucket algorithm.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing requestsPerSecond sustained commands
// and bursts of up to burst commands.
//
// Special cases:
//   - requestsPerSecond = 0: No rate limiting (unlimited)
//   - burst = 0: burst equals requestsPerSecond
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether a command may run now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Throttle wraps dialer so that dialing and every session command first
// wait for a token from limiter. Close is never throttled.
func Throttle(dialer mailbox.Dialer, limiter *RateLimiter) mailbox.Dialer {
	return &throttledDialer{dialer: dialer, limiter: limiter}
}

type throttledDialer struct {
	dialer  mailbox.Dialer
	limiter *RateLimiter
}

func (d *throttledDialer) Dial(ctx context.Context) (mailbox.Session, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	session, err := d.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return &throttledSession{session: session, limiter: d.limiter}, nil
}

type throttledSession struct {
	session mailbox.Session
	limiter *RateLimiter
}

func (s *throttledSession) Search(ctx context.Context, criteria mailbox.Criteria) ([]mailbox.UID, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.session.Search(ctx, criteria)
}

func (s *throttledSession) FetchSubject(ctx context.Context, uid mailbox.UID) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return s.session.FetchSubject(ctx, uid)
}

func (s *throttledSession) FetchHeader(ctx context.Context, uid mailbox.UID) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.session.FetchHeader(ctx, uid)
}

func (s *throttledSession) FetchBody(ctx context.Context, uid mailbox.UID) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.session.FetchBody(ctx, uid)
}

func (s *throttledSession) Append(ctx context.Context, raw []byte) (mailbox.UID, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return s.session.Append(ctx, raw)
}

func (s *throttledSession) Expunge(ctx context.Context, uid mailbox.UID) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.session.Expunge(ctx, uid)
}

// Close always runs so that a cancelled command still releases the folder.
func (s *throttledSession) Close() error {
	return s.session.Close()
}
