// Package bus fans one channel out to several named subscribers.
package bus

import (
	"context"
	"log"
	"sync"
)

type subscriber[T any] struct {
	name string
	ch   chan T
}

// FanOut broadcasts values from a single input channel to N output
// channels. A full output drops the value for that subscriber only, so a
// slow sink cannot stall the others.
type FanOut[T any] struct {
	mu      sync.RWMutex
	subs    []subscriber[T]
	bufSize int
	closed  bool

	// OnDrop is called with the subscriber name when a value is dropped.
	OnDrop func(name string)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new output channel. Subscribing after Run
// has returned yields an already-closed channel.
func (f *FanOut[T]) Subscribe(name string) <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.subs = append(f.subs, subscriber[T]{name: name, ch: ch})
	return ch
}

// Run reads from input and fans out to all subscribers until ctx is
// cancelled or input is closed, then closes every output.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer func() {
		f.mu.Lock()
		f.closed = true
		for _, s := range f.subs {
			close(s.ch)
		}
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for _, s := range f.subs {
				select {
				case s.ch <- v:
				default:
					if f.OnDrop != nil {
						f.OnDrop(s.name)
					} else {
						log.Printf("[bus] subscriber %s full, dropping value", s.name)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// Saturation returns the fill percentage, 0 for unbuffered channels.
func (s ChannelStat) Saturation() float64 {
	if s.Cap == 0 {
		return 0
	}
	return float64(s.Len) / float64(s.Cap) * 100
}

func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.subs))
	for i, s := range f.subs {
		stats[i] = ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}
