// Package events is the in-process publish/subscribe registry used for
// cross-panel signaling. Topics are typed, so a subscriber always receives
// the payload shape the topic declares.
package events

import (
	"sync"

	"github.com/asheshgoplani/panedeck/internal/panel"
)

// Topic names a channel carrying payloads of type T.
type Topic[T any] struct {
	name string
}

// NewTopic declares a topic. Topic names must be unique per payload type.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the topic name.
func (t Topic[T]) Name() string { return t.name }

// FocusPanelEvent asks the workspace to bring a panel to the front.
type FocusPanelEvent struct {
	ProjectID string
	Panel     panel.ID
}

// OpenFileEvent asks the editor to open a file.
type OpenFileEvent struct {
	ProjectID string
	Path      string
	// Line is 1-based; zero means unspecified.
	Line int
}

var (
	FocusPanel = NewTopic[FocusPanelEvent]("panel-focus")
	OpenFile   = NewTopic[OpenFileEvent]("open-file")
)

type subscriber struct {
	id uint64
	fn any
}

// Bus dispatches payloads synchronously to every subscriber of a topic.
type Bus struct {
	mu   sync.Mutex
	next uint64
	subs map[string][]subscriber
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscribe registers fn for topic and returns a disposer. The disposer is
// idempotent.
func Subscribe[T any](b *Bus, topic Topic[T], fn func(T)) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[topic.name] = append(b.subs[topic.name], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic.name]
			for i, s := range list {
				if s.id == id {
					b.subs[topic.name] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[topic.name]) == 0 {
				delete(b.subs, topic.name)
			}
		})
	}
}

// Publish delivers payload to the current subscribers of topic on the
// caller's goroutine and returns how many received it. Subscribers may
// subscribe or unsubscribe while being called.
func Publish[T any](b *Bus, topic Topic[T], payload T) int {
	b.mu.Lock()
	list := make([]subscriber, len(b.subs[topic.name]))
	copy(list, b.subs[topic.name])
	b.mu.Unlock()

	delivered := 0
	for _, s := range list {
		fn, ok := s.fn.(func(T))
		if !ok {
			continue
		}
		fn(payload)
		delivered++
	}
	return delivered
}

// Subscribers returns the number of subscribers on a topic.
func Subscribers[T any](b *Bus, topic Topic[T]) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic.name])
}
