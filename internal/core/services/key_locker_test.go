package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLocker_SerialisesSameKey(t *testing.T) {
	locker := newKeyLocker(true)
	unlock := locker.lock("task:a")

	acquired := make(chan struct{})
	go func() {
		release := locker.lock("task:a")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	assert.Eventually(t, func() bool {
		select {
		case <-acquired:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return locker.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestKeyLocker_DuplicateAndUnorderedKeys(t *testing.T) {
	locker := newKeyLocker(true)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				locker.lock("b", "a", "a")()
			} else {
				locker.lock("a", "b")()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, locker.size())
}

func TestKeyLocker_Disabled(t *testing.T) {
	locker := newKeyLocker(false)
	unlock := locker.lock("x")
	locker.lock("x")()
	unlock()
	assert.Equal(t, 0, locker.size())
}
