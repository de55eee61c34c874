package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcm(samples ...int16) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

func fakeStart(data []byte, exitErr error, stderr string, gotArgs *[]string) startFunc {
	return func(_ context.Context, _ string, args []string) (*process, error) {
		if gotArgs != nil {
			*gotArgs = args
		}
		tail := &tailBuffer{limit: stderrTail}
		_, _ = tail.Write([]byte(stderr))
		return &process{
			stdout: io.NopCloser(bytes.NewReader(data)),
			wait:   func() error { return exitErr },
			stderr: tail,
		}, nil
	}
}

func newTestFactory(start startFunc) *Factory {
	factory := NewFactory(Config{
		InputFormat: "pulse",
		SampleRate:  16000,
		Devices: map[domain.Channel]string{
			domain.ChannelMic:    "default",
			domain.ChannelSystem: "alsa_output.monitor",
		},
	})
	factory.start = start
	return factory
}

func TestFactoryArgs(t *testing.T) {
	t.Parallel()

	factory := NewFactory(Config{InputFormat: "pulse", SampleRate: 48000})

	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "pulse",
		"-i", "default.monitor",
		"-ac", "1",
		"-ar", "48000",
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"pipe:1",
	}, factory.Args("default.monitor"))
}

func TestSourceDecodesLittleEndianFrames(t *testing.T) {
	t.Parallel()

	var args []string
	factory := newTestFactory(fakeStart(pcm(1, -2, 300, math16Min, 7), nil, "", &args))

	source, err := factory.Open(context.Background(), domain.ChannelSystem)
	require.NoError(t, err)
	assert.Equal(t, domain.AudioFormat{SampleRate: 16000, Channels: 1}, source.Format())
	assert.Contains(t, args, "alsa_output.monitor")

	buf := make([]int16, 2)
	var got []int16
	for {
		n, err := source.ReadFrames(context.Background(), buf)
		got = append(got, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}

	assert.Equal(t, []int16{1, -2, 300, math16Min, 7}, got)
	require.NoError(t, source.Close())
	require.NoError(t, source.Close())
}

func TestSourceReportsFFmpegFailureWithStderr(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(fakeStart(pcm(5, 5), errors.New("exit status 1"), "pulse: Connection refused", nil))
	source, err := factory.Open(context.Background(), domain.ChannelMic)
	require.NoError(t, err)

	buf := make([]int16, 4)
	n, err := source.ReadFrames(context.Background(), buf)

	assert.Equal(t, 2, n)
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.ErrorContains(t, err, "ffmpeg exited")
	assert.ErrorContains(t, err, "Connection refused")
}

func TestFactoryOpenRequiresDevice(t *testing.T) {
	t.Parallel()

	factory := NewFactory(Config{Devices: map[domain.Channel]string{domain.ChannelMic: "default"}})
	_, err := factory.Open(context.Background(), domain.ChannelSystem)

	require.Error(t, err)
	assert.ErrorContains(t, err, "no capture device configured for SYSTEM")
}

func TestFactoryOpenWrapsStartFailure(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(func(context.Context, string, []string) (*process, error) {
		return nil, errors.New("executable file not found in $PATH")
	})

	_, err := factory.Open(context.Background(), domain.ChannelMic)

	require.Error(t, err)
	assert.ErrorContains(t, err, "start ffmpeg for MIC")
}

func TestParseSources(t *testing.T) {
	t.Parallel()

	output := "Auto-detected sources for pulse:\n* alsa_input.usb-mic [USB Mic] (none)\n  alsa_output.monitor [Monitor of Speakers] (none)\n\n"

	assert.Equal(t, []string{
		"alsa_input.usb-mic [USB Mic] (none)",
		"alsa_output.monitor [Monitor of Speakers] (none)",
	}, ParseSources(output))
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	t.Parallel()

	tail := &tailBuffer{limit: 5}
	_, _ = tail.Write([]byte("abc"))
	_, _ = tail.Write([]byte("defgh"))

	assert.Equal(t, "defgh", tail.String())
}

const math16Min = -32768
