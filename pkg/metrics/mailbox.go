package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation names used as the "operation" label.
const (
	OpDial         = "dial"
	OpSearch       = "search"
	OpFetchSubject = "fetch_subject"
	OpFetchHeader  = "fetch_header"
	OpFetchBody    = "fetch_body"
	OpAppend       = "append"
	OpExpunge      = "expunge"
	OpClose        = "close"
)

// Status label values.
const (
	StatusSuccess  = "success"
	StatusNotFound = "not_found"
	StatusDenied   = "denied"
	StatusError    = "error"
)

// mailboxMetrics collects metrics about mailbox session primitives:
//   - Operation counts by backend, operation and status
//   - Operation latency
//   - Message bytes read and written
type mailboxMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
}

var (
	sharedMetrics     *mailboxMetrics
	sharedMetricsOnce sync.Once
)

// getMailboxMetrics registers the collectors once per process. Several
// dialers share them, told apart by the backend label.
func getMailboxMetrics() *mailboxMetrics {
	sharedMetricsOnce.Do(func() {
		reg := GetRegistry()

		sharedMetrics = &mailboxMetrics{
			operationsTotal: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "imapfs_mailbox_operations_total",
					Help: "Total number of mailbox operations by backend, operation and status",
				},
				[]string{"backend", "operation", "status"},
			),
			operationDuration: promauto.With(reg).NewHistogramVec(
				prometheus.HistogramOpts{
					Name: "imapfs_mailbox_operation_duration_seconds",
					Help: "Duration of mailbox operations in seconds",
					Buckets: []float64{
						0.001, // 1ms
						0.005, // 5ms
						0.01,  // 10ms
						0.05,  // 50ms
						0.1,   // 100ms
						0.25,  // 250ms
						0.5,   // 500ms
						1.0,   // 1s
						2.5,   // 2.5s
						5.0,   // 5s
						10.0,  // 10s
					},
				},
				[]string{"backend", "operation"},
			),
			bytesTotal: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "imapfs_mailbox_bytes_total",
					Help: "Total message bytes transferred by direction (read or write)",
				},
				[]string{"backend", "direction"},
			),
		}
	})
	return sharedMetrics
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, mailbox.ErrMessageNotFound):
		return StatusNotFound
	case errors.Is(err, mailbox.ErrAccessDenied):
		return StatusDenied
	default:
		return StatusError
	}
}

func (m *mailboxMetrics) observe(backend, operation string, start time.Time, err error) {
	m.operationsTotal.WithLabelValues(backend, operation, statusOf(err)).Inc()
	m.operationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}

// Instrument decorates dialer so that every session primitive is counted
// and timed under the given backend label. Without an initialized registry
// the dialer is returned unchanged.
func Instrument(dialer mailbox.Dialer, backend string) mailbox.Dialer {
	if !IsEnabled() {
		return dialer
	}
	return &instrumentedDialer{
		inner:   dialer,
		backend: backend,
		metrics: getMailboxMetrics(),
	}
}

type instrumentedDialer struct {
	inner   mailbox.Dialer
	backend string
	metrics *mailboxMetrics
}

func (d *instrumentedDialer) Dial(ctx context.Context) (mailbox.Session, error) {
	start := time.Now()
	session, err := d.inner.Dial(ctx)
	d.metrics.observe(d.backend, OpDial, start, err)
	if err != nil {
		return nil, err
	}
	return &instrumentedSession{inner: session, backend: d.backend, metrics: d.metrics}, nil
}

type instrumentedSession struct {
	inner   mailbox.Session
	backend string
	metrics *mailboxMetrics
}

func (s *instrumentedSession) Search(ctx context.Context, criteria mailbox.Criteria) ([]mailbox.UID, error) {
	start := time.Now()
	uids, err := s.inner.Search(ctx, criteria)
	s.metrics.observe(s.backend, OpSearch, start, err)
	return uids, err
}

func (s *instrumentedSession) FetchSubject(ctx context.Context, uid mailbox.UID) (string, error) {
	start := time.Now()
	subject, err := s.inner.FetchSubject(ctx, uid)
	s.metrics.observe(s.backend, OpFetchSubject, start, err)
	return subject, err
}

func (s *instrumentedSession) FetchHeader(ctx context.Context, uid mailbox.UID) ([]byte, error) {
	start := time.Now()
	header, err := s.inner.FetchHeader(ctx, uid)
	s.metrics.observe(s.backend, OpFetchHeader, start, err)
	return header, err
}

func (s *instrumentedSession) FetchBody(ctx context.Context, uid mailbox.UID) ([]byte, error) {
	start := time.Now()
	body, err := s.inner.FetchBody(ctx, uid)
	s.metrics.observe(s.backend, OpFetchBody, start, err)
	if err == nil {
		s.metrics.bytesTotal.WithLabelValues(s.backend, "read").Add(float64(len(body)))
	}
	return body, err
}

func (s *instrumentedSession) Append(ctx context.Context, raw []byte) (mailbox.UID, error) {
	start := time.Now()
	uid, err := s.inner.Append(ctx, raw)
	s.metrics.observe(s.backend, OpAppend, start, err)
	if err == nil {
		s.metrics.bytesTotal.WithLabelValues(s.backend, "write").Add(float64(len(raw)))
	}
	return uid, err
}

func (s *instrumentedSession) Expunge(ctx context.Context, uid mailbox.UID) error {
	start := time.Now()
	err := s.inner.Expunge(ctx, uid)
	s.metrics.observe(s.backend, OpExpunge, start, err)
	return err
}

func (s *instrumentedSession) Close() error {
	start := time.Now()
	err := s.inner.Close()
	s.metrics.observe(s.backend, OpClose, start, err)
	return err
}
