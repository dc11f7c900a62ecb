package dispatch

import (
	"context"
	"sync"
)

// ScriptSource replays a fixed tick list in order, then drains. Safe for
// concurrent use, though a session run has a single consumer.
type ScriptSource struct {
	mu    sync.Mutex
	ticks []Tick
}

// NewScript builds a source over the given ticks.
func NewScript(ticks ...Tick) *ScriptSource {
	queued := make([]Tick, len(ticks))
	copy(queued, ticks)
	return &ScriptSource{ticks: queued}
}

// Next pops the next scripted tick.
func (s *ScriptSource) Next(ctx context.Context) (Tick, error) {
	if err := ctx.Err(); err != nil {
		return Tick{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ticks) == 0 {
		return Tick{}, ErrSourceDrained
	}
	tick := s.ticks[0]
	s.ticks = s.ticks[1:]
	return tick, nil
}
