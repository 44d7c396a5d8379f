package train

import (
	"context"
	"io"
	"sync"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
)

// BatchProvider yields training batches. Next returns io.EOF when the data
// is exhausted.
type BatchProvider interface {
	Next(ctx context.Context) (*event.Batch, error)
}

// SliceProvider serves batches from memory, cycling Epochs times.
type SliceProvider struct {
	mu      sync.Mutex
	batches []*event.Batch
	epochs  int
	pos     int
	epoch   int
}

// NewSliceProvider creates a provider that yields batches epochs times in
// order. epochs < 1 is read as 1.
func NewSliceProvider(epochs int, batches ...*event.Batch) *SliceProvider {
	return &SliceProvider{batches: batches, epochs: max(epochs, 1)}
}

// Next implements BatchProvider.
func (p *SliceProvider) Next(ctx context.Context) (*event.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.batches) == 0 || p.epoch >= p.epochs {
		return nil, io.EOF
	}
	b := p.batches[p.pos]
	p.pos++
	if p.pos == len(p.batches) {
		p.pos = 0
		p.epoch++
	}
	return b, nil
}

// Reset rewinds to the first batch of the first epoch.
func (p *SliceProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos, p.epoch = 0, 0
}
