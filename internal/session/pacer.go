package session

import (
	"context"
	"sync"
	"time"
)

const (
	frameInterval = 20 * time.Millisecond
	frameBytes    = 960 * 2 // 20ms of 48kHz 16-bit mono
)

// pacer cuts synthesized PCM into 20ms frames and hands them to write at
// real-time pace, so a cancelled utterance stops within one frame.
type pacer struct {
	write func([]byte) error

	mu      sync.Mutex
	buf     []byte
	frames  chan []byte
	stopCh  chan struct{}
	stopped bool
}

func newPacer(write func([]byte) error) *pacer {
	p := &pacer{
		write:  write,
		frames: make(chan []byte, 256),
		stopCh: make(chan struct{}),
	}
	go p.run()
	return p
}

// Write buffers pcm and queues every complete frame. It blocks while the
// queue is full until ctx is done or the pacer is closed.
func (p *pacer) Write(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	p.buf = append(p.buf, pcm...)
	var ready [][]byte
	for len(p.buf) >= frameBytes {
		f := make([]byte, frameBytes)
		copy(f, p.buf[:frameBytes])
		ready = append(ready, f)
		p.buf = p.buf[frameBytes:]
	}
	p.mu.Unlock()

	for _, f := range ready {
		if err := p.push(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Flush queues any partial frame padded with silence.
func (p *pacer) Flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.buf) == 0 {
		p.mu.Unlock()
		return nil
	}
	f := make([]byte, frameBytes)
	copy(f, p.buf)
	p.buf = p.buf[:0]
	p.mu.Unlock()
	return p.push(ctx, f)
}

func (p *pacer) push(ctx context.Context, f []byte) error {
	select {
	case p.frames <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return errClosed
	}
}

// Reset drops queued and buffered audio.
func (p *pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = p.buf[:0]
	for {
		select {
		case <-p.frames:
		default:
			return
		}
	}
}

func (p *pacer) Close() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()
}

func (p *pacer) run() {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			select {
			case f := <-p.frames:
				_ = p.write(f)
			default:
			}
		}
	}
}
