package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
)

const stderrTail = 2048

type Config struct {
	FFmpegPath  string
	InputFormat string
	SampleRate  int
	Devices     map[domain.Channel]string
}

// process is a started capture command: raw s16le on Stdout.
type process struct {
	stdout io.ReadCloser
	wait   func() error
	stderr *tailBuffer
}

type startFunc func(ctx context.Context, path string, args []string) (*process, error)

// Factory opens one ffmpeg subprocess per channel, each reading the device
// configured for that channel and writing mono 16-bit PCM to a pipe.
type Factory struct {
	cfg   Config
	start startFunc
}

var _ ports.AudioSourceFactory = (*Factory)(nil)

func NewFactory(cfg Config) *Factory {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	return &Factory{cfg: cfg, start: startProcess}
}

// Args is the ffmpeg command line used to capture device.
func (f *Factory) Args(device string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if f.cfg.InputFormat != "" {
		args = append(args, "-f", f.cfg.InputFormat)
	}
	return append(args,
		"-i", device,
		"-ac", "1",
		"-ar", strconv.Itoa(f.cfg.SampleRate),
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"pipe:1",
	)
}

func (f *Factory) Open(ctx context.Context, channel domain.Channel) (ports.AudioSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	device := strings.TrimSpace(f.cfg.Devices[channel])
	if device == "" {
		return nil, fmt.Errorf("no capture device configured for %s", channel)
	}

	proc, err := f.start(ctx, f.cfg.FFmpegPath, f.Args(device))
	if err != nil {
		return nil, fmt.Errorf("start ffmpeg for %s device %q: %w", channel, device, err)
	}

	return &Source{
		format: domain.AudioFormat{SampleRate: f.cfg.SampleRate, Channels: 1},
		proc:   proc,
	}, nil
}

// Devices describes the configured inputs per channel.
func (f *Factory) Devices() map[domain.Channel]string {
	out := make(map[domain.Channel]string, len(f.cfg.Devices))
	for channel, device := range f.cfg.Devices {
		out[channel] = device
	}
	return out
}

// Sources asks ffmpeg for the devices its input format can open.
func (f *Factory) Sources(ctx context.Context) ([]string, error) {
	if f.cfg.InputFormat == "" {
		return nil, errors.New("capture.input_format is not configured")
	}

	cmd := exec.CommandContext(ctx, f.cfg.FFmpegPath, "-hide_banner", "-sources", f.cfg.InputFormat)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("list %s sources: %w: %s", f.cfg.InputFormat, err, strings.TrimSpace(stderr.String()))
	}
	return ParseSources(stdout.String()), nil
}

// ParseSources keeps the device lines of `ffmpeg -sources` output.
func ParseSources(output string) []string {
	var sources []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "Auto-detected sources") {
			continue
		}
		trimmed = strings.TrimPrefix(trimmed, "* ")
		sources = append(sources, trimmed)
	}
	return sources
}

func startProcess(ctx context.Context, path string, args []string) (*process, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &process{stdout: stdout, wait: cmd.Wait, stderr: stderr}, nil
}

// Source reads one ffmpeg pipe. It ends with io.EOF when ffmpeg exits
// cleanly and with an error carrying the stderr tail otherwise.
type Source struct {
	format domain.AudioFormat
	proc   *process

	raw       []byte
	closeOnce sync.Once
	waitOnce  sync.Once
	waitErr   error
}

var _ ports.AudioSource = (*Source)(nil)

func (s *Source) Format() domain.AudioFormat {
	return s.format
}

func (s *Source) ReadFrames(ctx context.Context, buf []int16) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if cap(s.raw) < len(buf)*2 {
		s.raw = make([]byte, len(buf)*2)
	}
	raw := s.raw[:len(buf)*2]

	n, err := io.ReadFull(s.proc.stdout, raw)
	samples := n / 2
	for i := 0; i < samples; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	switch {
	case err == nil:
		return samples, nil
	case ctx.Err() != nil:
		return samples, ctx.Err()
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if waitErr := s.wait(); waitErr != nil {
			return samples, s.exitError(waitErr)
		}
		if samples > 0 {
			return samples, nil
		}
		return 0, io.EOF
	default:
		return samples, fmt.Errorf("read ffmpeg output: %w", err)
	}
}

func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.proc.stdout.Close()
	})
	return err
}

func (s *Source) wait() error {
	s.waitOnce.Do(func() {
		if s.proc.wait != nil {
			s.waitErr = s.proc.wait()
		}
	})
	return s.waitErr
}

func (s *Source) exitError(err error) error {
	tail := ""
	if s.proc.stderr != nil {
		tail = strings.TrimSpace(s.proc.stderr.String())
	}
	if tail == "" {
		return fmt.Errorf("ffmpeg exited: %w", err)
	}
	return fmt.Errorf("ffmpeg exited: %w: %s", err, tail)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
