package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/marmos91/imapfs/pkg/mailbox/memory"
	"github.com/marmos91/imapfs/pkg/message"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentCountsOperations(t *testing.T) {
	InitRegistry()
	ctx := context.Background()

	dialer := Instrument(memory.NewMemoryMailbox(), "test-count")
	session, err := dialer.Dial(ctx)
	require.NoError(t, err)

	raw, err := message.New("owner", "notes", []byte("hello\n")).Encode()
	require.NoError(t, err)

	uid, err := session.Append(ctx, raw)
	require.NoError(t, err)

	_, err = session.Search(ctx, mailbox.Criteria{Owner: "owner"})
	require.NoError(t, err)

	body, err := session.FetchBody(ctx, uid)
	require.NoError(t, err)

	_, err = session.FetchSubject(ctx, uid+100)
	require.ErrorIs(t, err, mailbox.ErrMessageNotFound)

	require.NoError(t, session.Close())

	m := getMailboxMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("test-count", OpDial, StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("test-count", OpAppend, StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("test-count", OpSearch, StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("test-count", OpFetchSubject, StatusNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("test-count", OpClose, StatusSuccess)))

	assert.Equal(t, float64(len(raw)), testutil.ToFloat64(m.bytesTotal.WithLabelValues("test-count", "write")))
	assert.Equal(t, float64(len(body)), testutil.ToFloat64(m.bytesTotal.WithLabelValues("test-count", "read")))
}

func TestInstrumentDialFailure(t *testing.T) {
	InitRegistry()

	failing := mailbox.DialerFunc(func(ctx context.Context) (mailbox.Session, error) {
		return nil, mailbox.ErrAccessDenied
	})

	_, err := Instrument(failing, "test-denied").Dial(context.Background())
	require.ErrorIs(t, err, mailbox.ErrAccessDenied)

	m := getMailboxMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("test-denied", OpDial, StatusDenied)))
}

func TestWriteTextfile(t *testing.T) {
	InitRegistry()

	dialer := Instrument(memory.NewMemoryMailbox(), "test-textfile")
	session, err := dialer.Dial(context.Background())
	require.NoError(t, err)
	require.NoError(t, session.Close())

	path := filepath.Join(t.TempDir(), "imapfs.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "imapfs_mailbox_operations_total")
	assert.Contains(t, string(data), `backend="test-textfile"`)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusSuccess, statusOf(nil))
	assert.Equal(t, StatusNotFound, statusOf(mailbox.ErrMessageNotFound))
	assert.Equal(t, StatusDenied, statusOf(mailbox.ErrAccessDenied))
	assert.Equal(t, StatusError, statusOf(assert.AnError))
}
