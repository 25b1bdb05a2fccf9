package gpio

import "errors"

// FakeReader is a test double that returns scripted input states.
type FakeReader struct {
	// Samples contains scripted states to return.
	// Each call to Read() consumes the next sample.
	Samples []State

	// FlameWired controls what HasFlame reports.
	FlameWired bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given samples and a
// flame input wired.
func NewFakeReader(samples []State) *FakeReader {
	return &FakeReader{Samples: samples, FlameWired: true}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read() (State, error) {
	if f.ReadError != nil {
		return State{}, f.ReadError
	}

	if len(f.Samples) == 0 {
		return State{}, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// HasFlame reports the configured FlameWired value.
func (f *FakeReader) HasFlame() bool {
	return f.FlameWired
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.index = 0
	f.Closed = false
}
