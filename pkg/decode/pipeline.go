package decode

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
	"github.com/sherwinwater/speech-to-text-service/pkg/logging"
)

// DefaultBinary is the decoder executable resolved from PATH.
const DefaultBinary = "ffmpeg"

// readChunkBytes is the stdout read size for the drain goroutine.
const readChunkBytes = 4096

// Config wires a streaming decode pipeline.
type Config struct {
	// Format describes the inbound stream.
	Format audio.Format
	// Binary overrides the decoder executable. Defaults to DefaultBinary.
	Binary string
	// Sink receives canonical PCM as it is decoded. Called from the
	// pipeline's reader goroutine.
	Sink func(pcm []byte)
	// OnExit observes decoder termination. A nil error means the decoder
	// drained cleanly after CloseInput; anything else is an abnormal exit.
	// Not invoked when the pipeline is stopped deliberately.
	OnExit func(err error)
	// Logger defaults to the process logger.
	Logger *slog.Logger
}

// Pipeline converts one inbound audio stream to canonical PCM by piping it
// through a decoder subprocess. Compressed bytes go in via Feed; decoded
// PCM comes out through the sink. Safe for concurrent use.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	started  bool
	inClosed bool

	stopped atomic.Bool
	done    chan struct{}
}

// NewPipeline builds a pipeline for one stream. The subprocess is started
// lazily on the first Feed.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Sink == nil {
		cfg.Sink = func([]byte) {}
	}
	return &Pipeline{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "decode"),
		done:   make(chan struct{}),
	}
}

// Args returns the decoder argument list for a stream format.
func Args(f audio.Format) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-fflags", "+discardcorrupt"}
	switch {
	case f.IsRaw():
		if f.SampleRate <= 0 {
			return nil, fmt.Errorf("sample rate required for raw PCM format %q", f.Encoding)
		}
		args = append(args, "-f", f.Encoding, "-ar", strconv.Itoa(f.SampleRate), "-ac", "1", "-i", "pipe:0")
	case f.Encoding == "m4a":
		// ffmpeg demuxes m4a through its mp4 reader.
		args = append(args, "-f", "mp4", "-i", "pipe:0")
	case audio.SupportedContainer(f.Encoding):
		args = append(args, "-f", f.Encoding, "-i", "pipe:0")
	default:
		return nil, fmt.Errorf("unsupported format %q", f.Encoding)
	}
	args = append(args,
		"-ac", "1",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-f", "s16le",
		"pipe:1",
	)
	return args, nil
}

// Start launches the decoder subprocess and its stdout drain goroutine.
// Feed calls it implicitly; calling it twice is an error.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked()
}

func (p *Pipeline) startLocked() error {
	if p.started {
		return errorsx.Wrap(fmt.Errorf("decoder already started"), errorsx.ReasonDecodeStart)
	}

	args, err := Args(p.cfg.Format)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDecodeStart)
	}

	cmd := exec.Command(p.cfg.Binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDecodeStart)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDecodeStart)
	}
	if err := cmd.Start(); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDecodeStart)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.started = true
	p.logger.Info("decoder_started",
		"format", p.cfg.Format.Encoding,
		"rate", p.cfg.Format.SampleRate,
	)

	go p.drain(stdout)
	return nil
}

// drain reads canonical PCM off the decoder until EOF, then reaps the
// subprocess and reports how it went.
func (p *Pipeline) drain(stdout io.Reader) {
	defer close(p.done)

	buf := make([]byte, readChunkBytes)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.cfg.Sink(chunk)
		}
		if err != nil {
			break
		}
	}

	err := p.cmd.Wait()
	if p.stopped.Load() {
		return
	}
	if err != nil {
		p.logger.Error("decoder_exited", "error", err)
	} else {
		p.logger.Debug("decoder_drained")
	}
	if p.cfg.OnExit != nil {
		p.cfg.OnExit(err)
	}
}

// Feed writes inbound stream bytes to the decoder, starting it on first
// use. Bytes arriving after CloseInput or Stop are dropped silently.
func (p *Pipeline) Feed(data []byte) error {
	if p.stopped.Load() {
		return nil
	}

	p.mu.Lock()
	// Re-checked under the lock so a concurrent Stop cannot slip between
	// the fast path above and a lazy start.
	if p.stopped.Load() {
		p.mu.Unlock()
		return nil
	}
	if !p.started {
		if err := p.startLocked(); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	if p.inClosed {
		p.mu.Unlock()
		return nil
	}
	stdin := p.stdin
	p.mu.Unlock()

	// Written outside the lock: a stalled decoder must not be able to
	// block CloseInput or Stop behind a full pipe.
	if _, err := stdin.Write(data); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDecodeFeed)
	}
	return nil
}

// CloseInput signals end of stream so the decoder can flush and exit.
// Safe to call more than once or before the decoder started.
func (p *Pipeline) CloseInput() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.inClosed {
		return
	}
	p.inClosed = true
	if err := p.stdin.Close(); err != nil {
		p.logger.Debug("decoder_input_close", "error", err)
	}
}

// Stop kills the decoder and waits for the drain goroutine to finish.
// Idempotent; a no-op when the decoder never started.
func (p *Pipeline) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	started := p.started
	cmd := p.cmd
	p.mu.Unlock()
	if !started {
		return
	}

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-p.done
}
