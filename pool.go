// Copyright 2023-2026 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http11

import (
	"errors"
	"math/bits"
	"runtime"
	"sync/atomic"
)

var (
	errRingFull  = errors.New("ring buffer is full")
	errRingEmpty = errors.New("ring buffer is empty")
)

type slot[T any] struct {
	sequence atomic.Uint64
	value    T
}

// ringBuffer is a bounded lock-free multi-producer multi-consumer queue.
type ringBuffer[T any] struct {
	buffer []slot[T]
	mask   uint64
	enqPos atomic.Uint64
	deqPos atomic.Uint64
}

// newRingBuffer creates a ring buffer holding at least size items, rounded
// up to a power of two.
func newRingBuffer[T any](size int) *ringBuffer[T] {
	if size < 2 {
		size = 2
	}
	size = 1 << bits.Len(uint(size-1))
	q := &ringBuffer[T]{
		buffer: make([]slot[T], size),
		mask:   uint64(size - 1),
	}
	for i := range q.buffer {
		q.buffer[i].sequence.Store(uint64(i))
	}
	return q
}

func (q *ringBuffer[T]) enqueue(val T) error {
	for {
		pos := q.enqPos.Load()
		slot := &q.buffer[pos&q.mask]
		delta := int64(slot.sequence.Load()) - int64(pos)
		switch {
		case delta == 0:
			if q.enqPos.CompareAndSwap(pos, pos+1) {
				slot.value = val
				slot.sequence.Store(pos + 1)
				return nil
			}
		case delta < 0:
			return errRingFull
		default:
			runtime.Gosched()
		}
	}
}

func (q *ringBuffer[T]) dequeue() (T, error) {
	var zero T
	for {
		pos := q.deqPos.Load()
		slot := &q.buffer[pos&q.mask]
		delta := int64(slot.sequence.Load()) - int64(pos+1)
		switch {
		case delta == 0:
			if q.deqPos.CompareAndSwap(pos, pos+1) {
				val := slot.value
				slot.value = zero
				slot.sequence.Store(pos + q.mask + 1)
				return val, nil
			}
		case delta < 0:
			return zero, errRingEmpty
		default:
			runtime.Gosched()
		}
	}
}

// ProcessorPool recycles processors between connections. Processors beyond
// the pool capacity are dropped on release.
type ProcessorPool struct {
	ready   *ringBuffer[*Processor]
	newFunc func() *Processor
}

// NewProcessorPool returns a pool keeping up to size idle processors.
func NewProcessorPool(size int, newFunc func() *Processor) *ProcessorPool {
	return &ProcessorPool{
		ready:   newRingBuffer[*Processor](size),
		newFunc: newFunc,
	}
}

// Get checks out a processor.
func (p *ProcessorPool) Get() *Processor {
	proc, err := p.ready.dequeue()
	if err != nil {
		proc = p.newFunc()
	}
	if !proc.checkedOut.CompareAndSwap(false, true) {
		panic("http11: processor checked out twice")
	}
	return proc
}

// Put recycles proc and makes it available again.
func (p *ProcessorPool) Put(proc *Processor) {
	if !proc.checkedOut.CompareAndSwap(true, false) {
		panic("http11: processor released twice")
	}
	proc.Recycle()
	_ = p.ready.enqueue(proc)
}
