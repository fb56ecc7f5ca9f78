package sandbox

import (
	"bytes"
	"io"
	"sync"
)

// limitedBuffer keeps at most limit bytes and fires onOverflow once when a
// write would exceed it.
type limitedBuffer struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	limit      int
	truncated  bool
	onOverflow func()
}

func newLimitedBuffer(limit int, onOverflow func()) *limitedBuffer {
	return &limitedBuffer{limit: limit, onOverflow: onOverflow}
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit <= 0 {
		return l.buf.Write(p)
	}
	remaining := l.limit - l.buf.Len()
	if len(p) > remaining {
		if remaining > 0 {
			_, _ = l.buf.Write(p[:remaining])
		}
		if !l.truncated {
			l.truncated = true
			if l.onOverflow != nil {
				l.onOverflow()
			}
		}
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) Truncated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.truncated
}

func (l *limitedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

var _ io.Writer = (*limitedBuffer)(nil)
