package filestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEditor returns a fixed result and records what it was given.
type scriptedEditor struct {
	output    string
	err       error
	called    bool
	name      string
	input     string
	discarded bool
}

func (e *scriptedEditor) Edit(_ context.Context, name string, content []byte) (*Draft, error) {
	e.called = true
	e.name = name
	e.input = string(content)
	if e.err != nil {
		return nil, e.err
	}
	return &Draft{
		Content:  []byte(e.output),
		Location: "/tmp/draft-" + name,
		Discard: func() error {
			e.discarded = true
			return nil
		},
	}, nil
}

func TestEditUnchangedSkipsWrite(t *testing.T) {
	store, mbox := newTestStore(t)
	log := captureLog(t)
	ref := create(t, store, "greeting", "hello\n")
	before := mbox.Len()

	editor := &scriptedEditor{output: "hello\n"}
	result, err := store.Edit(context.Background(), "greeting", editor, true)
	require.NoError(t, err)
	assert.Equal(t, EditUnchanged, result.Outcome)
	assert.Nil(t, result.Put)

	assert.Equal(t, "hello\n", editor.input)
	assert.Equal(t, before, mbox.Len(), "no write occurs")
	assert.Contains(t, log.String(), "unchanged")
	assert.Contains(t, log.String(), ref.String())
	assert.True(t, editor.discarded)
}

func TestEditUnchangedIgnoresLineEndings(t *testing.T) {
	store, mbox := newTestStore(t)
	captureLog(t)
	create(t, store, "greeting", "a\nb\n")
	before := mbox.Len()

	result, err := store.Edit(context.Background(), "greeting", &scriptedEditor{output: "a\r\nb\r\n"}, true)
	require.NoError(t, err)
	assert.Equal(t, EditUnchanged, result.Outcome)
	assert.Equal(t, before, mbox.Len())
}

func TestEditNewFile(t *testing.T) {
	store, _ := newTestStore(t)
	captureLog(t)
	ctx := context.Background()

	editor := &scriptedEditor{output: "new\n"}
	result, err := store.Edit(ctx, "fresh", editor, true)
	require.NoError(t, err)
	assert.Equal(t, EditSaved, result.Outcome)
	assert.Nil(t, result.Put.Retired)
	assert.Equal(t, "fresh", editor.name)
	assert.Empty(t, editor.input)
	assert.True(t, editor.discarded)

	refs, err := store.List(ctx, []string{"fresh"})
	require.NoError(t, err)
	require.Len(t, refs, 1, "exactly one new version")

	file, err := store.Fetch(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(file.Payload))
}

func TestEditReplacesExisting(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	v1 := create(t, store, "doc", "old\n")

	result, err := store.Edit(ctx, "doc", &scriptedEditor{output: "new\n"}, true)
	require.NoError(t, err)
	assert.Equal(t, EditSaved, result.Outcome)
	require.NotNil(t, result.Put.Retired)
	assert.Equal(t, v1, *result.Put.Retired)

	refs, err := store.List(ctx, []string{"doc"})
	require.NoError(t, err)
	assert.Equal(t, []Ref{result.Put.Created}, refs)
}

func TestEditWithoutReplaceKeepsOld(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	v1 := create(t, store, "doc", "old\n")

	result, err := store.Edit(ctx, "doc", &scriptedEditor{output: "new\n"}, false)
	require.NoError(t, err)
	assert.Nil(t, result.Put.Retired)

	refs, err := store.List(ctx, []string{"doc"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []Ref{v1, result.Put.Created}, refs)
}

func TestEditStaleVersionStartsEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	log := captureLog(t)
	ctx := context.Background()
	current := create(t, store, "doc", "current\n")

	editor := &scriptedEditor{output: "fresh\n"}
	result, err := store.Edit(ctx, "doc:999", editor, true)
	require.NoError(t, err)
	assert.Empty(t, editor.input)
	assert.Nil(t, result.Put.Retired, "a first save never retires")
	assert.Contains(t, log.String(), "starting from empty content")

	refs, err := store.List(ctx, []string{"doc"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []Ref{current, result.Put.Created}, refs)
}

func TestEditAccessErrorPropagates(t *testing.T) {
	_, mbox := newTestStore(t)
	dialer := &faultDialer{inner: mbox, searchErr: fmt.Errorf("gone: %w", mailbox.ErrAccessDenied)}
	editor := &scriptedEditor{output: "x"}

	_, err := New(dialer, Options{Owner: testOwner}).Edit(context.Background(), "doc", editor, true)
	assert.Equal(t, ErrAccess, CodeOf(err))
	assert.False(t, editor.called)
}

func TestEditVersionOnlyWithoutExisting(t *testing.T) {
	store, _ := newTestStore(t)
	captureLog(t)
	editor := &scriptedEditor{output: "x"}

	_, err := store.Edit(context.Background(), ":42", editor, true)
	assert.Equal(t, ErrInvalidIdentifier, CodeOf(err))
	assert.False(t, editor.called)
}

func TestEditVersionOnlyExisting(t *testing.T) {
	store, _ := newTestStore(t)
	v1 := create(t, store, "doc", "old")

	editor := &scriptedEditor{output: "new"}
	result, err := store.Edit(context.Background(), ":"+v1.UID.String(), editor, true)
	require.NoError(t, err)
	assert.Equal(t, "doc", editor.name)
	assert.Equal(t, "doc", result.Put.Created.Name)
	assert.Equal(t, v1, *result.Put.Retired)
}

func TestEditorFailure(t *testing.T) {
	store, mbox := newTestStore(t)
	create(t, store, "doc", "old")
	before := mbox.Len()

	_, err := store.Edit(context.Background(), "doc", &scriptedEditor{err: errors.New("editor exited with status 1")}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 1")
	assert.Equal(t, before, mbox.Len())
}

func TestEditSaveFailureKeepsDraft(t *testing.T) {
	store, mbox := newTestStore(t)
	log := captureLog(t)
	create(t, store, "doc", "old")

	dialer := &faultDialer{inner: mbox, appendErr: errors.New("quota exceeded")}
	editor := &scriptedEditor{output: "precious"}

	result, err := New(dialer, Options{Owner: testOwner}).Edit(context.Background(), "doc", editor, true)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, ErrBackend, CodeOf(err))
	assert.False(t, editor.discarded)
	assert.Contains(t, log.String(), "/tmp/draft-doc")
}

func TestEditorFunc(t *testing.T) {
	var got string
	f := EditorFunc(func(_ context.Context, name string, _ []byte) (*Draft, error) {
		got = name
		return &Draft{}, nil
	})

	_, err := f.Edit(context.Background(), "n", nil)
	require.NoError(t, err)
	assert.Equal(t, "n", got)
}
