package catalog

import (
	"path/filepath"
	"sync"
	"testing"

	"gatebot/internal/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	gdb, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&Entry{}))

	return New(gdb)
}

func TestPutAndResolve(t *testing.T) {
	s := newTestStore(t)

	ref := ContentRef{FileID: "file-abc", SourceChat: -100123, SourceMessage: 42}
	require.NoError(t, s.Put("MyCode123", ref, "first item"))

	entry, err := s.Resolve("mycode123")
	require.NoError(t, err)
	assert.Equal(t, "MyCode123", entry.Code)
	assert.Equal(t, ref, entry.Ref())
	assert.Equal(t, "first item", entry.Caption)

	// lookup is case-insensitive and trims whitespace
	entry, err = s.Resolve("  MYCODE123  ")
	require.NoError(t, err)
	assert.Equal(t, "MyCode123", entry.Code)

	_, err = s.Resolve("never-inserted")
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestPutRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Put("CODE", ContentRef{FileID: "a"}, ""))

	err := s.Put("code", ContentRef{FileID: "b"}, "")
	assert.ErrorIs(t, err, ErrCodeExists)

	// the original entry is untouched
	entry, err := s.Resolve("CODE")
	require.NoError(t, err)
	assert.Equal(t, "a", entry.FileID)
}

func TestPutSerialStartsAtOne(t *testing.T) {
	s := newTestStore(t)

	serial, err := s.PutSerial(ContentRef{FileID: "f1"}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), serial)

	serial, err = s.PutSerial(ContentRef{FileID: "f2"}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), serial)

	entry, err := s.Resolve("1")
	require.NoError(t, err)
	assert.Equal(t, "f1", entry.FileID)
}

func TestPutSerialCountsAdminNumericCodes(t *testing.T) {
	s := newTestStore(t)

	// an admin-declared numeric code occupies its serial slot
	require.NoError(t, s.Put("5", ContentRef{FileID: "f5"}, ""))

	serial, err := s.PutSerial(ContentRef{FileID: "f6"}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(6), serial)
}

func TestNumericCodesCanonicalized(t *testing.T) {
	s := newTestStore(t)

	// '007' and '7' are the same serial slot, stored in decimal form
	require.NoError(t, s.Put("007", ContentRef{FileID: "f7"}, ""))

	entry, err := s.Resolve("7")
	require.NoError(t, err)
	assert.Equal(t, "7", entry.Code)
	assert.Equal(t, int64(7), entry.Serial)
	assert.Equal(t, "f7", entry.FileID)

	entry, err = s.Resolve("007")
	require.NoError(t, err)
	assert.Equal(t, "f7", entry.FileID)

	entry, err = s.Resolve("+7")
	require.NoError(t, err)
	assert.Equal(t, "f7", entry.FileID)

	err = s.Put("7", ContentRef{FileID: "dup"}, "")
	assert.ErrorIs(t, err, ErrCodeExists)

	// the occupied slot counts toward the next minted serial
	serial, err := s.PutSerial(ContentRef{FileID: "f8"}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(8), serial)
}

func TestNormalizeKeepsNonPositiveLiterals(t *testing.T) {
	assert.Equal(t, "7", Normalize(" 007 "))
	assert.Equal(t, "7", Normalize("+7"))
	assert.Equal(t, "abc", Normalize(" ABC "))
	assert.Equal(t, "0", Normalize("0"))
	assert.Equal(t, "-5", Normalize("-5"))
}

func TestConcurrentSerialsAreConsecutive(t *testing.T) {
	s := newTestStore(t)

	const n = 20
	serials := make(chan int64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serial, err := s.PutSerial(ContentRef{FileID: "f"}, "")
			assert.NoError(t, err)
			serials <- serial
		}()
	}
	wg.Wait()
	close(serials)

	seen := make(map[int64]bool)
	for serial := range serials {
		assert.False(t, seen[serial], "serial %d minted twice", serial)
		seen[serial] = true
	}
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "serial %d missing", i)
	}
}

func TestAttach(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Put("preorder", ContentRef{}, ""))

	ref := ContentRef{FileID: "late-file", SourceChat: -1, SourceMessage: 7}
	require.NoError(t, s.Attach("PREORDER", ref))

	entry, err := s.Resolve("preorder")
	require.NoError(t, err)
	assert.Equal(t, ref, entry.Ref())

	// attached content is never overwritten
	err = s.Attach("preorder", ContentRef{FileID: "other"})
	assert.ErrorIs(t, err, ErrRefAttached)

	err = s.Attach("missing", ref)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestListOrder(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Put("zeta", ContentRef{FileID: "z"}, ""))
	_, err := s.PutSerial(ContentRef{FileID: "a"}, "")
	require.NoError(t, err)
	require.NoError(t, s.Put("alpha", ContentRef{FileID: "x"}, ""))
	_, err = s.PutSerial(ContentRef{FileID: "b"}, "")
	require.NoError(t, err)

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// serials ascending first, then string codes lexically
	assert.Equal(t, "1", entries[0].Code)
	assert.Equal(t, "2", entries[1].Code)
	assert.Equal(t, "alpha", entries[2].Code)
	assert.Equal(t, "zeta", entries[3].Code)
}

func TestResolveGormNotFoundMapped(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Resolve("anything")
	assert.ErrorIs(t, err, ErrCodeNotFound)
	assert.NotErrorIs(t, err, gorm.ErrRecordNotFound)
}
