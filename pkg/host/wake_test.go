package host

import (
	"sync"
	"testing"
	"time"
)

func TestWakeTokenTriggerBeforeWait(t *testing.T) {
	w := newWakeToken()
	w.trigger()
	select {
	case <-w.wait():
	default:
		t.Fatal("trigger before first wait not observed")
	}
}

func TestWakeTokenTriggerIdempotent(t *testing.T) {
	w := newWakeToken()
	w.trigger()
	w.trigger()
	<-w.wait()
}

func TestWakeTokenCrossGoroutine(t *testing.T) {
	w := newWakeToken()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-w.wait():
			case <-time.After(time.Second):
				t.Error("waiter never woken")
			}
		}()
	}
	w.trigger()
	wg.Wait()
}
