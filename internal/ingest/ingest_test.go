package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"gatebot/internal/catalog"
	"gatebot/internal/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sourceChat = int64(-100500)

func newTestSync(t *testing.T, captionAsCode bool) (*Sync, *catalog.Store) {
	t.Helper()

	gdb, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&catalog.Entry{}, &ProcessedMessage{}))

	cat := catalog.New(gdb)
	return New(gdb, cat, sourceChat, captionAsCode), cat
}

func TestIgnoresForeignChannels(t *testing.T) {
	s, cat := newTestSync(t, false)

	outcome, err := s.OnIncomingMedia(Media{Chat: -42, MessageID: 1, FileID: "f"})
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, outcome.Status)

	count, err := cat.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMintsConsecutiveSerials(t *testing.T) {
	s, cat := newTestSync(t, false)

	outcome, err := s.OnIncomingMedia(Media{Chat: sourceChat, MessageID: 1, FileID: "f1"})
	require.NoError(t, err)
	assert.Equal(t, StatusMinted, outcome.Status)
	assert.Equal(t, int64(1), outcome.Serial)

	outcome, err = s.OnIncomingMedia(Media{Chat: sourceChat, MessageID: 2, FileID: "f2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), outcome.Serial)

	entry, err := cat.Resolve("1")
	require.NoError(t, err)
	assert.Equal(t, "f1", entry.FileID)
	assert.Equal(t, sourceChat, entry.SourceChat)
	assert.Equal(t, 1, entry.SourceMessage)
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	s, cat := newTestSync(t, false)

	m := Media{Chat: sourceChat, MessageID: 7, FileID: "f"}

	outcome, err := s.OnIncomingMedia(m)
	require.NoError(t, err)
	assert.Equal(t, StatusMinted, outcome.Status)

	for i := 0; i < 3; i++ {
		outcome, err = s.OnIncomingMedia(m)
		require.NoError(t, err)
		assert.Equal(t, StatusDuplicate, outcome.Status)
	}

	count, err := cat.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCaptionAsCodeAttaches(t *testing.T) {
	s, cat := newTestSync(t, true)

	require.NoError(t, cat.Put("SUMMER", catalog.ContentRef{}, ""))

	outcome, err := s.OnIncomingMedia(Media{Chat: sourceChat, MessageID: 1, FileID: "f", Caption: " summer "})
	require.NoError(t, err)
	assert.Equal(t, StatusAttached, outcome.Status)
	assert.Equal(t, "summer", outcome.Code)

	entry, err := cat.Resolve("summer")
	require.NoError(t, err)
	assert.Equal(t, "f", entry.FileID)
}

func TestCaptionWithoutDeclaredCodeMints(t *testing.T) {
	s, _ := newTestSync(t, true)

	outcome, err := s.OnIncomingMedia(Media{Chat: sourceChat, MessageID: 1, FileID: "f", Caption: "no such code"})
	require.NoError(t, err)
	assert.Equal(t, StatusMinted, outcome.Status)
	assert.Equal(t, int64(1), outcome.Serial)
}

func TestCaptionModeOffNeverAttaches(t *testing.T) {
	s, cat := newTestSync(t, false)

	require.NoError(t, cat.Put("SUMMER", catalog.ContentRef{}, ""))

	outcome, err := s.OnIncomingMedia(Media{Chat: sourceChat, MessageID: 1, FileID: "f", Caption: "SUMMER"})
	require.NoError(t, err)
	assert.Equal(t, StatusMinted, outcome.Status)
}

func TestAdminMediaBypassesSourceFilter(t *testing.T) {
	s, cat := newTestSync(t, false)

	// private chat, nowhere near the source channel
	m := Media{Chat: 555, MessageID: 1, FileID: "f"}

	outcome, err := s.OnAdminMedia(m)
	require.NoError(t, err)
	assert.Equal(t, StatusMinted, outcome.Status)
	assert.Equal(t, int64(1), outcome.Serial)

	outcome, err = s.OnAdminMedia(m)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, outcome.Status)

	// the channel path keeps its filter
	outcome, err = s.OnIncomingMedia(Media{Chat: 555, MessageID: 2, FileID: "g"})
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, outcome.Status)

	count, err := cat.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAdminMediaAttachesCaptionCode(t *testing.T) {
	s, cat := newTestSync(t, true)

	require.NoError(t, cat.Put("promo", catalog.ContentRef{}, ""))

	outcome, err := s.OnAdminMedia(Media{Chat: 555, MessageID: 1, FileID: "f", Caption: "PROMO"})
	require.NoError(t, err)
	assert.Equal(t, StatusAttached, outcome.Status)
	assert.Equal(t, "promo", outcome.Code)
}

func TestEntryAndMarkerCommitTogether(t *testing.T) {
	gdb, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&catalog.Entry{}))

	// a marker table that rejects message 99 forces the marker insert to
	// fail after the entry write succeeded
	require.NoError(t, gdb.Exec(
		`CREATE TABLE processed_messages (
			id integer primary key autoincrement,
			source_chat integer,
			message_id integer CHECK (message_id <> 99),
			processed_at datetime)`).Error)

	cat := catalog.New(gdb)
	s := New(gdb, cat, sourceChat, false)

	_, err = s.OnIncomingMedia(Media{Chat: sourceChat, MessageID: 99, FileID: "f99"})
	require.Error(t, err)

	// the rolled-back entry left no trace
	count, err := cat.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	outcome, err := s.OnIncomingMedia(Media{Chat: sourceChat, MessageID: 1, FileID: "f1"})
	require.NoError(t, err)
	assert.Equal(t, StatusMinted, outcome.Status)
	assert.Equal(t, int64(1), outcome.Serial)
}

func TestSetSource(t *testing.T) {
	s, _ := newTestSync(t, false)

	s.SetSource(-777)
	assert.Equal(t, int64(-777), s.Source())

	outcome, err := s.OnIncomingMedia(Media{Chat: sourceChat, MessageID: 1, FileID: "f"})
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, outcome.Status)

	outcome, err = s.OnIncomingMedia(Media{Chat: -777, MessageID: 1, FileID: "f"})
	require.NoError(t, err)
	assert.Equal(t, StatusMinted, outcome.Status)
}

// fakeWalker replays a fixed history.
type fakeWalker struct {
	history []Media
}

func (f *fakeWalker) Walk(ctx context.Context, chat int64, fn func(Media) error) error {
	for _, m := range f.history {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func TestBackfill(t *testing.T) {
	s, cat := newTestSync(t, false)

	walker := &fakeWalker{history: []Media{
		{Chat: sourceChat, MessageID: 1, FileID: "f1"},
		{Chat: sourceChat, MessageID: 2, FileID: "f2"},
		{Chat: sourceChat, MessageID: 3, FileID: "f3"},
	}}

	added, err := s.Backfill(context.Background(), walker)
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	// a second sweep over the same history adds nothing
	added, err = s.Backfill(context.Background(), walker)
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	count, err := cat.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestBackfillCancellation(t *testing.T) {
	s, cat := newTestSync(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	walker := &fakeWalker{history: []Media{{Chat: sourceChat, MessageID: 1, FileID: "f"}}}
	_, err := s.Backfill(ctx, walker)
	assert.ErrorIs(t, err, context.Canceled)

	count, err := cat.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestBackfillWithoutSource(t *testing.T) {
	s, _ := newTestSync(t, false)
	s.SetSource(0)

	_, err := s.Backfill(context.Background(), &fakeWalker{})
	assert.Error(t, err)
}
