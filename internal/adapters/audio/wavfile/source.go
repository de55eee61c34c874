package wavfile

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
)

var ErrUnsupportedFormat = errors.New("unsupported wav format")

// Factory replays recorded WAV files, one per channel, as fast as they can
// be read.
type Factory struct {
	paths map[domain.Channel]string
}

var _ ports.AudioSourceFactory = (*Factory)(nil)

func NewFactory(paths map[domain.Channel]string) *Factory {
	return &Factory{paths: paths}
}

// Channels lists the channels that have a recording, in priority order.
func (f *Factory) Channels() []domain.Channel {
	var channels []domain.Channel
	for _, channel := range []domain.Channel{domain.ChannelSystem, domain.ChannelMic} {
		if f.paths[channel] != "" {
			channels = append(channels, channel)
		}
	}
	return channels
}

func (f *Factory) Open(ctx context.Context, channel domain.Channel) (ports.AudioSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := f.paths[channel]
	if path == "" {
		return nil, fmt.Errorf("no recording given for %s", channel)
	}
	return Open(path)
}

// Source streams the data chunk of a 16-bit PCM WAV file.
type Source struct {
	file      *os.File
	reader    *bufio.Reader
	format    domain.AudioFormat
	remaining int64
}

var _ ports.AudioSource = (*Source)(nil)

func Open(path string) (*Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}

	reader := bufio.NewReader(file)
	format, dataLen, err := readHeader(reader)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return &Source{file: file, reader: reader, format: format, remaining: dataLen}, nil
}

func (s *Source) Format() domain.AudioFormat {
	return s.format
}

func (s *Source) ReadFrames(ctx context.Context, buf []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	width := max(s.format.Channels, 1)
	frames := len(buf) / width
	if frames == 0 {
		return 0, nil
	}

	available := s.remaining / int64(2*width)
	if available == 0 {
		return 0, io.EOF
	}
	frames = int(min(int64(frames), available))

	samples := buf[:frames*width]
	if err := binary.Read(s.reader, binary.LittleEndian, samples); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			s.remaining = 0
			return 0, fmt.Errorf("recording is truncated: %w", err)
		}
		return 0, fmt.Errorf("read samples: %w", err)
	}
	s.remaining -= int64(len(samples) * 2)
	return frames, nil
}

func (s *Source) Close() error {
	return s.file.Close()
}

// readHeader walks RIFF chunks up to "data" and returns the format and the
// data length in bytes.
func readHeader(r *bufio.Reader) (domain.AudioFormat, int64, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return domain.AudioFormat{}, 0, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return domain.AudioFormat{}, 0, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupportedFormat)
	}

	var (
		format    domain.AudioFormat
		sawFormat bool
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return domain.AudioFormat{}, 0, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return domain.AudioFormat{}, 0, fmt.Errorf("%w: fmt chunk too short", ErrUnsupportedFormat)
			}
			var fmtChunk struct {
				AudioFormat   uint16
				Channels      uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if err := binary.Read(r, binary.LittleEndian, &fmtChunk); err != nil {
				return domain.AudioFormat{}, 0, fmt.Errorf("read fmt chunk: %w", err)
			}
			if fmtChunk.AudioFormat != 1 || fmtChunk.BitsPerSample != 16 {
				return domain.AudioFormat{}, 0, fmt.Errorf("%w: need 16-bit PCM, got format %d with %d bits",
					ErrUnsupportedFormat, fmtChunk.AudioFormat, fmtChunk.BitsPerSample)
			}
			format = domain.AudioFormat{SampleRate: int(fmtChunk.SampleRate), Channels: int(fmtChunk.Channels)}
			sawFormat = true
			if err := skip(r, size-16+size%2); err != nil {
				return domain.AudioFormat{}, 0, err
			}
		case "data":
			if !sawFormat {
				return domain.AudioFormat{}, 0, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedFormat)
			}
			return format, size, nil
		default:
			if err := skip(r, size+size%2); err != nil {
				return domain.AudioFormat{}, 0, err
			}
		}
	}
}

func skip(r *bufio.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("skip chunk: %w", err)
	}
	return nil
}
