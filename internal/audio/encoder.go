package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"medivoice/internal/domain"
	"medivoice/internal/ports"
)

const (
	MIMETypeWebM = "audio/webm"
	MIMETypeWAV  = "audio/wav"
	MIMETypePCM  = "audio/L16"

	// DefaultBitrate favours small uploads over fidelity.
	DefaultBitrate = 32000
)

// ErrNoAudio is returned when there is nothing to encode.
var ErrNoAudio = errors.New("no audio captured")

// WriteWAV encodes little-endian PCM into a WAV file at path.
func WriteWAV(path string, pcm []byte, format ports.PCMFormat) error {
	format = normalizeFormat(format)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
		Data:           make([]int, len(pcm)/2),
		SourceBitDepth: format.BitDepth,
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// RawPCM wraps unencoded samples so they can still be saved when encoding
// fails.
func RawPCM(pcm []byte, format ports.PCMFormat) domain.AudioPayload {
	format = normalizeFormat(format)
	return domain.AudioPayload{
		Data:     append([]byte(nil), pcm...),
		MIMEType: fmt.Sprintf("%s;rate=%d;channels=%d", MIMETypePCM, format.SampleRate, format.Channels),
	}
}

// WAVEncoder packs PCM as an uncompressed WAV payload.
type WAVEncoder struct {
	TempDir string
}

func (e WAVEncoder) Encode(_ context.Context, pcm []byte, format ports.PCMFormat) (domain.AudioPayload, error) {
	if len(pcm) < 2 {
		return domain.AudioPayload{}, ErrNoAudio
	}
	dir, err := os.MkdirTemp(e.TempDir, "medivoice-wav-")
	if err != nil {
		return domain.AudioPayload{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "recording.wav")
	if err := WriteWAV(path, pcm, format); err != nil {
		return domain.AudioPayload{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.AudioPayload{}, fmt.Errorf("read wav: %w", err)
	}
	return domain.AudioPayload{Data: data, MIMEType: MIMETypeWAV}, nil
}

// OpusEncoder compresses PCM into webm/opus via ffmpeg, falling back to WAV
// when ffmpeg cannot produce output.
type OpusEncoder struct {
	command string
	bitrate int
	tempDir string
	log     zerolog.Logger
}

func NewOpusEncoder(command string, bitrate int, log zerolog.Logger) *OpusEncoder {
	if command == "" {
		command = "ffmpeg"
	}
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}
	return &OpusEncoder{command: command, bitrate: bitrate, log: log}
}

func (e *OpusEncoder) Encode(ctx context.Context, pcm []byte, format ports.PCMFormat) (domain.AudioPayload, error) {
	if len(pcm) < 2 {
		return domain.AudioPayload{}, ErrNoAudio
	}

	dir, err := os.MkdirTemp(e.tempDir, "medivoice-opus-")
	if err != nil {
		return domain.AudioPayload{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	wavPath := filepath.Join(dir, "recording.wav")
	if err := WriteWAV(wavPath, pcm, format); err != nil {
		return domain.AudioPayload{}, err
	}

	outPath := filepath.Join(dir, "recording.webm")
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", wavPath,
		"-c:a", "libopus",
		"-b:a", strconv.Itoa(e.bitrate),
		"-f", "webm",
		outPath,
	}
	cmd := exec.CommandContext(ctx, e.command, args...)
	stderr := &stderrTail{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Run(); err == nil {
		if data, readErr := os.ReadFile(outPath); readErr == nil && len(data) > 0 {
			return domain.AudioPayload{Data: data, MIMEType: MIMETypeWebM}, nil
		}
	} else {
		e.log.Warn().Err(err).Str("stderr", stderr.String()).Msg("opus encoding failed; using wav")
	}

	data, err := os.ReadFile(wavPath)
	if err != nil {
		return domain.AudioPayload{}, fmt.Errorf("read wav: %w", err)
	}
	return domain.AudioPayload{Data: data, MIMEType: MIMETypeWAV}, nil
}

func normalizeFormat(format ports.PCMFormat) ports.PCMFormat {
	if format.SampleRate <= 0 {
		format.SampleRate = 16000
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	if format.BitDepth <= 0 {
		format.BitDepth = 16
	}
	return format
}
