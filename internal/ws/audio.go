package ws

import (
	"sync"
	"time"

	"github.com/hraban/opus"
)

// FrameWriter delivers one encoded audio frame to the client.
type FrameWriter interface {
	WriteAudioFrame(frame []byte) error
}

// OpusStreamWriter encodes 48 kHz mono PCM into Opus and delivers it as
// paced 20 ms frames. It is the playback sink for a browser connection:
// pacing here keeps the client's jitter buffer shallow so a barge-in cuts
// audio almost immediately instead of after seconds of queued sound.
type OpusStreamWriter struct {
	enc          *opus.Encoder
	out          FrameWriter
	frameSamples int

	mu     sync.Mutex
	pcmBuf []int16
	frames chan []byte
	stopCh chan struct{}
	closed bool
}

// NewOpusStreamWriter constructs a writer with 20 ms frames at 48 kHz mono
// and starts its pacer.
func NewOpusStreamWriter(out FrameWriter) (*OpusStreamWriter, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := &OpusStreamWriter{
		enc:          enc,
		out:          out,
		frameSamples: 960, // 20ms at 48kHz
		frames:       make(chan []byte, 512),
		stopCh:       make(chan struct{}),
	}
	go w.pace()
	return w, nil
}

// WritePCM buffers little-endian PCM bytes and emits any full frames.
func (w *OpusStreamWriter) WritePCM(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(pcm) / 2
	start := len(w.pcmBuf)
	if cap(w.pcmBuf)-start < n {
		grown := make([]int16, start, start+n+2048)
		copy(grown, w.pcmBuf)
		w.pcmBuf = grown
	}
	w.pcmBuf = w.pcmBuf[:start+n]
	for i := 0; i < n; i++ {
		w.pcmBuf[start+i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	w.encodeFullFramesLocked()
}

// encodeFullFramesLocked drains pcmBuf into the frame queue. Caller holds
// w.mu.
func (w *OpusStreamWriter) encodeFullFramesLocked() {
	scratch := make([]byte, 4000)
	for len(w.pcmBuf) >= w.frameSamples {
		n, _ := w.enc.Encode(w.pcmBuf[:w.frameSamples], scratch)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, scratch[:n])
			w.enqueue(frame)
		}
		copy(w.pcmBuf, w.pcmBuf[w.frameSamples:])
		w.pcmBuf = w.pcmBuf[:len(w.pcmBuf)-w.frameSamples]
	}
}

// FlushTail pads the remainder to a full frame and appends a short silence
// tail so the end of an utterance is not clipped.
func (w *OpusStreamWriter) FlushTail() {
	scratch := make([]byte, 4000)
	w.mu.Lock()
	if len(w.pcmBuf) > 0 {
		padded := make([]int16, w.frameSamples)
		copy(padded, w.pcmBuf)
		n, _ := w.enc.Encode(padded, scratch)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, scratch[:n])
			w.enqueue(frame)
		}
		w.pcmBuf = w.pcmBuf[:0]
	}
	w.mu.Unlock()

	// ~200ms of silence
	silence := make([]int16, w.frameSamples)
	for i := 0; i < 10; i++ {
		n, _ := w.enc.Encode(silence, scratch)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, scratch[:n])
			w.enqueue(frame)
		}
	}
}

// Reset drops buffered PCM and every queued frame so an interruption is
// audible at once.
func (w *OpusStreamWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pcmBuf = w.pcmBuf[:0]
	for {
		select {
		case <-w.frames:
		default:
			return
		}
	}
}

// Close stops the pacer. Idempotent.
func (w *OpusStreamWriter) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *OpusStreamWriter) pace() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_ = w.out.WriteAudioFrame(frame)
			default:
			}
		}
	}
}

// enqueue adds a frame without blocking; when the queue is full the oldest
// frame is dropped. enqueue runs under w.mu, so blocking here would
// deadlock against Reset.
func (w *OpusStreamWriter) enqueue(frame []byte) {
	for {
		select {
		case <-w.stopCh:
			return
		case w.frames <- frame:
			return
		default:
		}
		select {
		case <-w.frames:
		default:
		}
	}
}
