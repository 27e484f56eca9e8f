// Package events fans controller notifications out to registered sinks.
package events

import (
	"sync"

	"snap-automation/internal/core"
)

// Hub is an observer registry. It implements core.EventSink by forwarding
// every notification to each registered sink in registration order.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	sinks  map[int]core.EventSink
	order  []int
}

// NewHub creates an empty hub
func NewHub(sinks ...core.EventSink) *Hub {
	h := &Hub{sinks: make(map[int]core.EventSink)}
	for _, s := range sinks {
		h.Register(s)
	}
	return h
}

// Register adds a sink and returns a function that removes it again
func (h *Hub) Register(sink core.EventSink) func() {
	if sink == nil {
		return func() {}
	}
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.sinks[id] = sink
	h.order = append(h.order, id)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.unregister(id) })
	}
}

func (h *Hub) unregister(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sinks, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered sinks
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}

func (h *Hub) snapshot() []core.EventSink {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]core.EventSink, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.sinks[id])
	}
	return out
}

// OnLog implements core.EventSink
func (h *Hub) OnLog(message string, severity core.Severity) {
	for _, s := range h.snapshot() {
		s.OnLog(message, severity)
	}
}

// OnStatusChanged implements core.EventSink
func (h *Hub) OnStatusChanged(text string) {
	for _, s := range h.snapshot() {
		s.OnStatusChanged(text)
	}
}

// OnStatisticsChanged implements core.EventSink
func (h *Hub) OnStatisticsChanged() {
	for _, s := range h.snapshot() {
		s.OnStatisticsChanged()
	}
}
