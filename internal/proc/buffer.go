package proc

import (
	"strings"
	"sync"
)

// TruncationMarker is prepended to buffer contents once overflow has
// dropped older bytes.
const TruncationMarker = "[...output truncated...]\n"

// DefaultBufferSize bounds captured stdout and stderr per child.
const DefaultBufferSize = 64 * 1024

// boundedBuffer keeps the most recent max bytes written to it. Overflow
// drops the oldest bytes; String() then carries a single truncation
// marker. An optional line callback fires per complete line.
//
// Writes come from the goroutines exec.Cmd runs to copy child pipes, so
// everything is mutex-guarded.
type boundedBuffer struct {
	mu        sync.Mutex
	max       int
	data      []byte
	truncated bool

	lineCB  func(line string)
	partial strings.Builder
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		b.data = b.data[len(b.data)-b.max:]
		b.truncated = true
	}

	if b.lineCB != nil {
		b.feedLines(p)
	}
	return len(p), nil
}

func (b *boundedBuffer) feedLines(p []byte) {
	for _, c := range string(p) {
		if c == '\n' {
			line := b.partial.String()
			b.partial.Reset()
			if line != "" {
				b.lineCB(line)
			}
			continue
		}
		b.partial.WriteRune(c)
	}
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return TruncationMarker + string(b.data)
	}
	return string(b.data)
}

func (b *boundedBuffer) setLineCallback(fn func(line string)) {
	b.mu.Lock()
	b.lineCB = fn
	b.mu.Unlock()
}
