// Package counter provides the example resource exposed by mcpbridge: a
// single signed integer with change observers.
package counter

import (
	"fmt"
	"sync"
)

// Observer is called with the new value after every change.
type Observer func(value int64)

// Counter is a signed 64-bit counter safe for concurrent use.
type Counter struct {
	mu        sync.Mutex
	value     int64
	observers map[int]Observer
	nextID    int
}

// New creates a counter starting at zero.
func New() *Counter {
	return &Counter{observers: make(map[int]Observer)}
}

// Get returns the current value.
func (c *Counter) Get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set replaces the value and returns it.
func (c *Counter) Set(v int64) int64 {
	return c.update(func(int64) int64 { return v })
}

// Increment adds one and returns the new value.
func (c *Counter) Increment() int64 {
	return c.update(func(cur int64) int64 { return cur + 1 })
}

// Decrement subtracts one and returns the new value.
func (c *Counter) Decrement() int64 {
	return c.update(func(cur int64) int64 { return cur - 1 })
}

// Reset sets the value back to zero.
func (c *Counter) Reset() int64 {
	return c.Set(0)
}

// Snapshot captures the value for transfer across a transport switch.
func (c *Counter) Snapshot() any {
	return c.Get()
}

// Restore applies a value previously returned by Snapshot.
func (c *Counter) Restore(snapshot any) error {
	v, ok := snapshot.(int64)
	if !ok {
		return fmt.Errorf("counter: cannot restore from %T", snapshot)
	}
	c.Set(v)
	return nil
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (c *Counter) Subscribe(fn Observer) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Counter) update(next func(int64) int64) int64 {
	c.mu.Lock()
	c.value = next(c.value)
	v := c.value
	observers := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	// Notify outside the lock so observers may read the counter.
	for _, fn := range observers {
		fn(v)
	}
	return v
}
