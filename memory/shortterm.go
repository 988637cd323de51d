// Package memory holds agent memory: the bounded short-term exchange window
// used as conversational context, and a searchable transcript of every
// exchange an agent has completed.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// Exchange is one completed think: the input and the provider's response.
type Exchange struct {
	ID     string    `json:"id"`
	Input  string    `json:"input"`
	Output string    `json:"output"`
	At     time.Time `json:"timestamp"`
}

// NewExchange stamps a new exchange with an id and the current time.
func NewExchange(input, output string) Exchange {
	return Exchange{
		ID:     uuid.New().String(),
		Input:  input,
		Output: output,
		At:     time.Now().UTC(),
	}
}

// ShortTerm is a FIFO window of the most recent exchanges. When full, the
// oldest exchange is evicted. A capacity of 0 retains nothing.
//
// ShortTerm is not safe for concurrent use; the owning agent entry
// serializes access.
type ShortTerm struct {
	capacity int
	items    []Exchange
}

// NewShortTerm creates an empty window. Negative capacities are treated as 0.
func NewShortTerm(capacity int) *ShortTerm {
	if capacity < 0 {
		capacity = 0
	}
	return &ShortTerm{capacity: capacity}
}

// Append adds x as the newest entry and returns whatever was evicted,
// oldest first.
func (s *ShortTerm) Append(x Exchange) []Exchange {
	s.items = append(s.items, x)
	return s.trim()
}

// Resize changes the capacity, evicting the oldest entries if the window
// shrinks below its current length.
func (s *ShortTerm) Resize(capacity int) []Exchange {
	if capacity < 0 {
		capacity = 0
	}
	s.capacity = capacity
	return s.trim()
}

func (s *ShortTerm) trim() []Exchange {
	over := len(s.items) - s.capacity
	if over <= 0 {
		return nil
	}
	evicted := make([]Exchange, over)
	copy(evicted, s.items[:over])

	kept := make([]Exchange, s.capacity)
	copy(kept, s.items[over:])
	s.items = kept
	return evicted
}

// Items returns a copy of the window, oldest first.
func (s *ShortTerm) Items() []Exchange {
	out := make([]Exchange, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of retained exchanges.
func (s *ShortTerm) Len() int { return len(s.items) }

// Cap returns the capacity.
func (s *ShortTerm) Cap() int { return s.capacity }
