package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roman-kulish/vehicle-tracklog/internal/sensor"
)

// node represents an internal linked list node for the sample buffer.
type node struct {
	sample sensor.Sample
	next   *node
}

// SampleBuffer is a thread-safe bounded FIFO holding samples from a single
// sensor between arrival and ingestion. When full, the oldest sample is
// dropped to make room: under sustained overload losing samples is
// acceptable, stalling the producer is not. Order is preserved for the
// samples that survive.
type SampleBuffer struct {
	capacity int

	mu   sync.Mutex
	head *node
	tail *node
	size int

	dropped atomic.Uint64
}

// NewSampleBuffer creates a new buffer holding up to capacity samples.
// Returns an error if capacity is not positive.
func NewSampleBuffer(capacity int) (*SampleBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid buffer capacity: %d", capacity)
	}
	return &SampleBuffer{capacity: capacity}, nil
}

// Push appends a sample to the buffer. If the buffer is full, the oldest
// sample is removed first and Push returns false.
func (b *SampleBuffer) Push(s sensor.Sample) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := true
	if b.size >= b.capacity {
		b.head = b.head.next
		if b.head == nil {
			b.tail = nil
		}
		b.size--
		b.dropped.Add(1)
		kept = false
	}

	n := &node{sample: s}
	if b.tail == nil {
		b.head = n
	} else {
		b.tail.next = n
	}
	b.tail = n
	b.size++

	return kept
}

// Pop removes and returns the oldest sample. The second return value is
// false if the buffer is empty.
func (b *SampleBuffer) Pop() (sensor.Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.head == nil {
		return sensor.Sample{}, false
	}

	n := b.head
	b.head = n.next
	if b.head == nil {
		b.tail = nil
	}
	b.size--

	return n.sample, true
}

// DrainAll removes and returns all buffered samples in order.
// Returns nil if the buffer is empty.
func (b *SampleBuffer) DrainAll() []sensor.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return nil
	}

	results := make([]sensor.Sample, 0, b.size)
	for n := b.head; n != nil; n = n.next {
		results = append(results, n.sample)
	}

	b.head = nil
	b.tail = nil
	b.size = 0
	return results
}

// Size returns the current number of buffered samples.
func (b *SampleBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped returns the total number of samples dropped due to overflow.
func (b *SampleBuffer) Dropped() uint64 {
	return b.dropped.Load()
}
