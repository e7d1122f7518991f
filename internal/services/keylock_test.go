package services

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexForgetsIdleKeys(t *testing.T) {
	var locks keyedMutex
	a, b := uuid.New(), uuid.New()

	unlockA := locks.Lock(a)
	unlockB := locks.Lock(b)
	assert.Equal(t, 2, locks.size())

	unlockA()
	unlockB()
	assert.Zero(t, locks.size())
}

func TestKeyedMutexExcludesPerKey(t *testing.T) {
	var locks keyedMutex
	user := uuid.New()

	var wg sync.WaitGroup
	inside, peak := 0, 0
	var mu sync.Mutex
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(user)
			defer unlock()

			mu.Lock()
			inside++
			peak = max(peak, inside)
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, peak)
	assert.Zero(t, locks.size())
}
