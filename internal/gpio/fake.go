package gpio

import (
	"errors"
	"sync"

	"github.com/sweeney/mailbox-node/internal/logic"
)

// FakeReader is a test double that returns scripted GPIO values.
type FakeReader struct {
	mu sync.Mutex

	// Samples contains scripted snapshots to return.
	// Each call to Read() consumes the next sample.
	Samples []logic.Snapshot

	// index tracks current position in Samples
	index int

	// Reads counts Read calls
	Reads int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...logic.Snapshot) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read() (logic.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++

	if f.ReadError != nil {
		return logic.Snapshot{}, f.ReadError
	}

	if len(f.Samples) == 0 {
		return logic.Snapshot{}, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = 0
	f.Closed = false
}

// WriteOp is one recorded FakeWriter call.
type WriteOp struct {
	Levels *logic.Snapshot // set for Write
	Strobe *bool           // set for SetStrobe
}

// FakeWriter is a test double that records output operations in order.
type FakeWriter struct {
	mu  sync.Mutex
	ops []WriteOp

	// Levels holds the last written output levels.
	Levels logic.Snapshot

	// Strobe holds the current strobe level.
	Strobe bool

	// WriteError, if set, will be returned by Write()
	WriteError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeWriter creates a FakeWriter.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{}
}

// Write records the levels.
func (f *FakeWriter) Write(levels logic.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Levels = levels
	f.ops = append(f.ops, WriteOp{Levels: &levels})
	return nil
}

// SetStrobe records the strobe level.
func (f *FakeWriter) SetStrobe(high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Strobe = high
	f.ops = append(f.ops, WriteOp{Strobe: &high})
	return nil
}

// Ops returns a copy of the recorded operations.
func (f *FakeWriter) Ops() []WriteOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WriteOp(nil), f.ops...)
}

// Writes returns the levels of every Write call, in order.
func (f *FakeWriter) Writes() []logic.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []logic.Snapshot
	for _, op := range f.ops {
		if op.Levels != nil {
			out = append(out, *op.Levels)
		}
	}
	return out
}

// Close marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
