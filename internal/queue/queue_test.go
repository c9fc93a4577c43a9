package queue_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PapooSoftware/fasthtcacheclean/internal/queue"
)

func cand(expiry, access, mtime int64) queue.Candidate {
	return queue.Candidate{
		Score: queue.Score{Expiry: expiry, Access: access, Mtime: mtime},
		Dir:   "/cache/aa",
		Stem:  fmt.Sprintf("e%d-%d-%d", expiry, access, mtime),
	}
}

func TestScoreCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b queue.Score
		want int
	}{
		{"older_expiry_wins", queue.Score{Expiry: 1}, queue.Score{Expiry: 2}, -1},
		{"zero_expiry_is_oldest", queue.Score{Expiry: 0}, queue.Score{Expiry: 1}, -1},
		{"access_breaks_expiry_tie", queue.Score{Expiry: 5, Access: 1}, queue.Score{Expiry: 5, Access: 9}, -1},
		{"mtime_breaks_access_tie", queue.Score{Expiry: 5, Access: 3, Mtime: 8}, queue.Score{Expiry: 5, Access: 3, Mtime: 2}, 1},
		{"identical", queue.Score{Expiry: 5, Access: 3, Mtime: 2}, queue.Score{Expiry: 5, Access: 3, Mtime: 2}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Compare(tc.b))
			assert.Equal(t, -tc.want, tc.b.Compare(tc.a))
		})
	}
}

func TestInsertBelowCapacityKeepsEverything(t *testing.T) {
	q := queue.New(10)

	for i := int64(0); i < 5; i++ {
		assert.True(t, q.Insert(cand(i, 0, 0)))
	}

	assert.Equal(t, 5, q.Len())
	assert.Equal(t, uint64(0), q.Dropped())
}

func TestOverflowKeepsOldest(t *testing.T) {
	q := queue.New(3)

	// Youngest first so every later insert must displace something.
	for _, expiry := range []int64{50, 40, 30, 20, 10} {
		q.Insert(cand(expiry, 0, 0))
	}

	got := q.Freeze()
	require.Len(t, got, 3)
	assert.Equal(t, int64(10), got[0].Score.Expiry)
	assert.Equal(t, int64(20), got[1].Score.Expiry)
	assert.Equal(t, int64(30), got[2].Score.Expiry)
	assert.Equal(t, uint64(2), q.Dropped())
}

func TestOverflowDropsYoung(t *testing.T) {
	q := queue.New(2)

	q.Insert(cand(10, 0, 0))
	q.Insert(cand(20, 0, 0))
	retained := q.Insert(cand(99, 0, 0))

	assert.False(t, retained)
	got := q.Freeze()
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].Score.Expiry)
	assert.Equal(t, int64(20), got[1].Score.Expiry)
}

func TestZeroCapacityDropsEverything(t *testing.T) {
	q := queue.New(0)

	assert.False(t, q.Insert(cand(1, 2, 3)))
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Freeze())
}

func TestFreezeSortsOldestFirst(t *testing.T) {
	q := queue.New(100)
	for _, expiry := range []int64{3, 1, 4, 1, 5, 9, 2, 6} {
		q.Insert(cand(expiry, expiry*10, 0))
	}

	got := q.Freeze()

	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Score.Compare(got[i].Score), 0)
	}
}

func TestInsertAfterFreezePanics(t *testing.T) {
	q := queue.New(4)
	q.Freeze()

	assert.Panics(t, func() { q.Insert(cand(1, 0, 0)) })
}

func TestConcurrentInsert(t *testing.T) {
	const workers = 8
	const perWorker = 1000
	q := queue.New(workers * perWorker / 2)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				q.Insert(cand(int64(w*perWorker+i), 0, 0))
			}
		}(w)
	}
	wg.Wait()

	got := q.Freeze()
	require.Len(t, got, workers*perWorker/2)
	// The retained set must be exactly the oldest half of all inserts.
	for _, c := range got {
		assert.Less(t, c.Score.Expiry, int64(workers*perWorker/2))
	}
}
