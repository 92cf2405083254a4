// Package indextest holds the behaviour every simpleupload.Index must share.
package indextest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// Factory returns an empty index for one subtest.
type Factory func(t *testing.T) simpleupload.Index

// base is truncated to microseconds, the precision PostgreSQL keeps.
var base = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

func record(key string, receivedAt time.Time) *simpleupload.UploadRecord {
	return &simpleupload.UploadRecord{
		OriginalName: key + ".pdf",
		StoredKey:    key,
		Location:     "memory://" + key,
		ReceivedAt:   receivedAt,
		Size:         42,
		ContentType:  "application/pdf",
	}
}

// Run exercises newIndex against the shared index contract.
func Run(t *testing.T, newIndex Factory) {
	ctx := context.Background()

	t.Run("EmptyList", func(t *testing.T) {
		idx := newIndex(t)
		records, err := idx.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("AppendAndFind", func(t *testing.T) {
		idx := newIndex(t)
		r := record("1715938200000-17-report.pdf", base)
		require.NoError(t, idx.Append(ctx, r))

		found, err := idx.FindByKey(ctx, r.StoredKey)
		require.NoError(t, err)
		assert.Equal(t, r.OriginalName, found.OriginalName)
		assert.Equal(t, r.StoredKey, found.StoredKey)
		assert.Equal(t, r.Location, found.Location)
		assert.True(t, r.ReceivedAt.Equal(found.ReceivedAt), "receivedAt %s != %s", found.ReceivedAt, r.ReceivedAt)
		assert.Equal(t, r.Size, found.Size)
		assert.Equal(t, r.ContentType, found.ContentType)
	})

	t.Run("FindUnknown", func(t *testing.T) {
		idx := newIndex(t)
		_, err := idx.FindByKey(ctx, "missing.pdf")
		assert.ErrorIs(t, err, simpleupload.ErrNotFound)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		idx := newIndex(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, idx.Append(ctx, record(fmt.Sprintf("key-%d", i), base.Add(time.Duration(i)*time.Second))))
		}

		records, err := idx.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 5)
		for i, r := range records {
			assert.Equal(t, fmt.Sprintf("key-%d", 4-i), r.StoredKey)
		}
	})

	t.Run("TiesListMostRecentAppendFirst", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Append(ctx, record("first", base)))
		require.NoError(t, idx.Append(ctx, record("second", base)))

		records, err := idx.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "second", records[0].StoredKey)
		assert.Equal(t, "first", records[1].StoredKey)
	})

	t.Run("ClampsReceivedAt", func(t *testing.T) {
		idx := newIndex(t)
		later := base.Add(time.Minute)
		require.NoError(t, idx.Append(ctx, record("later", later)))

		early := record("early", base)
		require.NoError(t, idx.Append(ctx, early))
		assert.True(t, early.ReceivedAt.Equal(later), "append should report the clamped receivedAt")

		records, err := idx.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "early", records[0].StoredKey)
		assert.True(t, records[0].ReceivedAt.Equal(later))
	})

	t.Run("DuplicateKey", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Append(ctx, record("dup", base)))

		err := idx.Append(ctx, record("dup", base.Add(time.Second)))
		assert.ErrorIs(t, err, simpleupload.ErrDuplicateKey)

		records, err := idx.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		idx := newIndex(t)
		r := record("copy", base)
		require.NoError(t, idx.Append(ctx, r))
		r.OriginalName = "changed-after-append.pdf"

		records, err := idx.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		records[0].OriginalName = "changed-after-list.pdf"

		found, err := idx.FindByKey(ctx, "copy")
		require.NoError(t, err)
		assert.Equal(t, "copy.pdf", found.OriginalName)
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		idx := newIndex(t)
		const n = 50

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- idx.Append(ctx, record(fmt.Sprintf("concurrent-%02d", i), base.Add(time.Duration(i%7)*time.Millisecond)))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		records, err := idx.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, n)

		seen := make(map[string]bool, n)
		for i, r := range records {
			assert.False(t, seen[r.StoredKey], "duplicate %s", r.StoredKey)
			seen[r.StoredKey] = true
			if i > 0 {
				assert.False(t, r.ReceivedAt.After(records[i-1].ReceivedAt), "list not newest first at %d", i)
			}
		}
	})
}
