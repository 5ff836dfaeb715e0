package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitterDeliversToAllSubscribers(t *testing.T) {
	var e Emitter[int]
	var got []int

	e.Subscribe(func(v int) { got = append(got, v) })
	e.Subscribe(func(v int) { got = append(got, v*10) })

	e.Emit(3)
	assert.ElementsMatch(t, []int{3, 30}, got)
	assert.Equal(t, 2, e.Len())
}

func TestEmitterUnsubscribe(t *testing.T) {
	var e Emitter[string]
	calls := 0

	cancel := e.Subscribe(func(string) { calls++ })
	e.Emit("a")
	cancel()
	cancel() // safe to call twice
	e.Emit("b")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, e.Len())
}

func TestEmitterSubscriberMayUnsubscribeDuringEmit(t *testing.T) {
	var e Emitter[int]
	var cancel func()
	calls := 0
	cancel = e.Subscribe(func(int) {
		calls++
		cancel()
	})

	e.Emit(1)
	e.Emit(2)
	assert.Equal(t, 1, calls)
}

func TestEmitterConcurrentEmit(t *testing.T) {
	var e Emitter[int]
	var mu sync.Mutex
	total := 0
	e.Subscribe(func(v int) {
		mu.Lock()
		total += v
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Emit(1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, total)
}
