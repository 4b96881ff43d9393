// Package portaudio is the blocking-stream alternative to the miniaudio
// devices, for platforms where malgo's backends misbehave.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-voice/core/audio"
)

const DefaultBufferSize = 512

// Client owns PortAudio's global state. Only one should exist at a time.
type Client struct {
	mic     *Microphone
	speaker *Speaker
}

func NewClient(bufferSize int, playbackRate int) (*Client, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if playbackRate <= 0 {
		playbackRate = audio.DefaultReplySampleRate
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	inStream, err := portaudio.OpenDefaultStream(1, 0, audio.DefaultSampleRate, bufferSize, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", classifyStreamError(err))
	}

	out := make([]int16, bufferSize)
	outStream, err := portaudio.OpenDefaultStream(0, 1, float64(playbackRate), bufferSize, out)
	if err != nil {
		_ = inStream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}

	speaker := &Speaker{stream: outStream, out: out, sampleRate: playbackRate, wake: make(chan struct{}, 1), done: make(chan struct{})}
	if err := outStream.Start(); err != nil {
		_ = inStream.Close()
		_ = outStream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}
	go speaker.run()

	return &Client{
		mic:     &Microphone{stream: inStream, in: in},
		speaker: speaker,
	}, nil
}

func (c *Client) Microphone() *Microphone { return c.mic }

func (c *Client) Speaker() *Speaker { return c.speaker }

func (c *Client) Close() {
	_ = c.mic.StopCapture()
	c.speaker.close()
	_ = c.mic.stream.Close()
	_ = c.speaker.stream.Close()
	_ = portaudio.Terminate()
}

func classifyStreamError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access denied") {
		return fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	}
	return err
}

// Microphone reads the default input in a goroutine while capturing.
type Microphone struct {
	stream *portaudio.Stream
	in     []int16

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (m *Microphone) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: audio.DefaultSampleRate, Format: audio.EncodingLinear16}
}

func (m *Microphone) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", classifyStreamError(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.read(ctx, onAudio, m.done)
	logger.Info("microphone started")
	return nil
}

func (m *Microphone) read(ctx context.Context, onAudio func(audio []byte), done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		if err := m.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			logger.Warn("failed to read input stream", "error", err)
			return
		}
		var chunk bytes.Buffer
		_ = binary.Write(&chunk, binary.LittleEndian, m.in)
		onAudio(chunk.Bytes())
	}
}

func (m *Microphone) StopCapture() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	<-done
	if err := m.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop input stream: %w", err)
	}
	logger.Info("microphone stopped")
	return nil
}

// Speaker writes queued PCM to the default output, padding with silence when
// the queue runs dry so the stream never underflows.
type Speaker struct {
	stream     *portaudio.Stream
	out        []int16
	sampleRate int

	mu     sync.Mutex
	queued []byte
	marks  []mark
	closed bool

	wake chan struct{}
	done chan struct{}
}

type mark struct {
	name     string
	position int
	callback func(string)
}

func (s *Speaker) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: s.sampleRate, Format: audio.EncodingLinear16}
}

func (s *Speaker) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("output stream closed")
	}
	s.queued = append(s.queued, pcm...)
	s.signal()
	return nil
}

func (s *Speaker) ClearBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = nil
	s.marks = nil
}

func (s *Speaker) Mark(name string, callback func(string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = append(s.marks, mark{name: name, position: len(s.queued), callback: callback})
	s.signal()
	return nil
}

func (s *Speaker) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Speaker) run() {
	frame := len(s.out) * 2
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		idle := len(s.queued) == 0 && len(s.marks) == 0
		s.mu.Unlock()
		if idle {
			select {
			case <-s.wake:
			case <-s.done:
				return
			}
			continue
		}

		s.mu.Lock()
		chunk := make([]byte, frame)
		n := copy(chunk, s.queued)
		s.queued = s.queued[n:]
		reached := s.advanceMarks(n)
		s.mu.Unlock()

		_ = binary.Read(bytes.NewReader(chunk), binary.LittleEndian, s.out)
		if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			logger.Warn("failed to write output stream", "error", err)
		}
		for _, m := range reached {
			if m.callback != nil {
				m.callback(m.name)
			}
		}
	}
}

func (s *Speaker) advanceMarks(consumed int) []mark {
	var passed int
	for i := range s.marks {
		if s.marks[i].position <= consumed {
			passed++
			continue
		}
		s.marks[i].position -= consumed
	}
	reached := append([]mark(nil), s.marks[:passed]...)
	s.marks = s.marks[passed:]
	return reached
}

func (s *Speaker) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	_ = s.stream.Stop()
}
