package domain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type Channel string

const (
	ChannelMic    Channel = "MIC"
	ChannelSystem Channel = "SYSTEM"
	ChannelMixed  Channel = "MIXED"
)

func ParseChannel(raw string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "MIC", "MICROPHONE":
		return ChannelMic, nil
	case "SYSTEM", "LOOPBACK", "SPEAKER":
		return ChannelSystem, nil
	default:
		return "", fmt.Errorf("unknown capture channel %q", raw)
	}
}

// Priority orders text from parallel channels of the same window: lower first.
func (c Channel) Priority() int {
	switch c {
	case ChannelSystem:
		return 0
	case ChannelMic:
		return 1
	default:
		return 2
	}
}

type AudioFormat struct {
	SampleRate int
	Channels   int
}

func (f AudioFormat) FramesFor(d time.Duration) int {
	return int(d.Seconds() * float64(f.SampleRate))
}

func (f AudioFormat) DurationOf(frames int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// AudioSegment is one hard-cut window of captured audio.
type AudioSegment struct {
	SessionID string
	Window    int
	Channel   Channel
	Format    AudioFormat
	Samples   []int16
	StartedAt time.Time
	EndedAt   time.Time
}

func (s AudioSegment) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// WAV encodes the segment as a 16-bit PCM RIFF file.
func (s AudioSegment) WAV() []byte {
	channels := s.Format.Channels
	if channels <= 0 {
		channels = 1
	}
	dataLen := len(s.Samples) * 2
	byteRate := s.Format.SampleRate * channels * 2

	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(s.Format.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels*2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	_ = binary.Write(buf, binary.LittleEndian, s.Samples)

	return buf.Bytes()
}

// TranscriptChunk is the text produced for one segment. A gap chunk marks
// audio that could not be transcribed.
type TranscriptChunk struct {
	Window     int
	Channel    Channel
	Text       string
	Confidence *float64
	StartedAt  time.Time
	EndedAt    time.Time
	Gap        bool
	GapReason  string
}

// Transcript accumulates chunks for the active session. Chunks may arrive
// out of order; rendering is ordered by window then channel priority.
type Transcript struct {
	mu     sync.Mutex
	chunks []TranscriptChunk
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) Add(chunk TranscriptChunk) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = append(t.chunks, chunk)
}

func (t *Transcript) Chunks() []TranscriptChunk {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TranscriptChunk, len(t.chunks))
	copy(out, t.chunks)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Window != out[j].Window {
			return out[i].Window < out[j].Window
		}
		return out[i].Channel.Priority() < out[j].Channel.Priority()
	})
	return out
}

func (t *Transcript) Gaps() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	gaps := 0
	for _, chunk := range t.chunks {
		if chunk.Gap {
			gaps++
		}
	}
	return gaps
}

// Text renders the transcript with inline gap markers so extraction knows
// content may be missing.
func (t *Transcript) Text() string {
	var b strings.Builder
	for _, chunk := range t.Chunks() {
		line := strings.TrimSpace(chunk.Text)
		if chunk.Gap {
			line = GapMarker(chunk)
		}
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = nil
}

func GapMarker(chunk TranscriptChunk) string {
	return fmt.Sprintf("[gap: %s audio %s-%s could not be transcribed]",
		strings.ToLower(string(chunk.Channel)),
		chunk.StartedAt.Format("15:04:05"),
		chunk.EndedAt.Format("15:04:05"),
	)
}
