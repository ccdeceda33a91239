package idgen

import (
	"regexp"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsUniqueAndIncreasing(t *testing.T) {
	s := &Snowflake{workerID: 3}
	var last int64
	for i := 0; i < 10000; i++ {
		id := s.Generate()
		require.Greater(t, id, last)
		assert.Equal(t, int64(3), (id>>workerIDShift)&maxWorkerID)
		last = id
	}
}

func TestNextIDConcurrent(t *testing.T) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := NextID()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 4000)
}

func TestInitRejectsBadWorker(t *testing.T) {
	assert.Error(t, Init(-1))
	assert.Error(t, Init(maxWorkerID+1))
}

func TestGenerateTransactionRef(t *testing.T) {
	ref := GenerateTransactionRef()
	assert.Regexp(t, regexp.MustCompile(`^TXN\d{14}-\d+$`), ref)
	assert.NotEqual(t, ref, GenerateTransactionRef())
}

func TestGenerateAccountNumber(t *testing.T) {
	for i := 0; i < 200; i++ {
		n, err := GenerateAccountNumber()
		require.NoError(t, err)
		assert.Regexp(t, `^[1-9]\d{9}$`, n)
	}
}

func TestGenerateEventID(t *testing.T) {
	_, err := uuid.Parse(GenerateEventID())
	assert.NoError(t, err)
}
