package stream

import (
	"sync"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/vad"
)

// Canonical chunking parameters, in seconds of canonical PCM.
const (
	DefaultChunkSeconds    = 2.5
	DefaultMinChunkSeconds = 1.0
	DefaultOverlapSeconds  = 0.5
	DefaultSilenceRMS      = 0.005
)

// Policy tunes when a session emits recognition windows. Zero fields take
// the canonical defaults; a negative SpeechRatioThreshold disables pause
// triggering entirely.
type Policy struct {
	ChunkSeconds         float64
	MinChunkSeconds      float64
	OverlapSeconds       float64
	SilenceRMS           float64
	SpeechRatioThreshold float64
}

// DefaultPolicy returns the canonical chunking policy with pause
// triggering at the default speech ratio threshold.
func DefaultPolicy() Policy {
	return Policy{
		ChunkSeconds:         DefaultChunkSeconds,
		MinChunkSeconds:      DefaultMinChunkSeconds,
		OverlapSeconds:       DefaultOverlapSeconds,
		SilenceRMS:           DefaultSilenceRMS,
		SpeechRatioThreshold: vad.DefaultSpeechRatioThreshold,
	}
}

func (p Policy) normalized() Policy {
	if p.ChunkSeconds <= 0 {
		p.ChunkSeconds = DefaultChunkSeconds
	}
	if p.MinChunkSeconds <= 0 {
		p.MinChunkSeconds = DefaultMinChunkSeconds
	}
	if p.OverlapSeconds <= 0 {
		p.OverlapSeconds = DefaultOverlapSeconds
	}
	if p.SilenceRMS <= 0 {
		p.SilenceRMS = DefaultSilenceRMS
	}
	if p.SpeechRatioThreshold == 0 {
		p.SpeechRatioThreshold = vad.DefaultSpeechRatioThreshold
	}
	return p
}

// Session accumulates canonical PCM for one stream and decides when and
// what to hand to recognition. The buffer is append-only between trims;
// a cursor marks how far recognition has consumed it. Safe for
// concurrent use: decode output and control traffic arrive on different
// goroutines.
type Session struct {
	policy   Policy
	analyzer *vad.Analyzer

	chunkBytes    int
	minChunkBytes int
	overlapBytes  int

	mu          sync.Mutex
	buffer      []byte
	transcribed int
}

// NewSession builds a session around a chunking policy. A nil analyzer
// disables pause triggering regardless of the policy threshold.
func NewSession(policy Policy, analyzer *vad.Analyzer) *Session {
	policy = policy.normalized()
	if analyzer == nil {
		analyzer = vad.NewAnalyzer(nil, audio.SampleRate, audio.SampleWidth)
		policy.SpeechRatioThreshold = vad.DisabledRatioThreshold
	}
	return &Session{
		policy:        policy,
		analyzer:      analyzer,
		chunkBytes:    int(policy.ChunkSeconds * audio.BytesPerSecond),
		minChunkBytes: int(policy.MinChunkSeconds * audio.BytesPerSecond),
		overlapBytes:  int(policy.OverlapSeconds * audio.BytesPerSecond),
	}
}

// Append adds decoded PCM to the buffer.
func (s *Session) Append(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	s.mu.Lock()
	s.buffer = append(s.buffer, pcm...)
	s.mu.Unlock()
}

// BufferedBytes returns the total PCM currently held.
func (s *Session) BufferedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// UnreadBytes returns the PCM not yet consumed by recognition.
func (s *Session) UnreadBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer) - s.transcribed
}

// ShouldTranscribe reports whether a recognition window is due. Forced
// checks fire on any unread audio; otherwise a window is due once a full
// chunk accumulates, or earlier when at least the minimum chunk is
// buffered and the trailing audio reads as a pause.
func (s *Session) ShouldTranscribe(force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	unread := len(s.buffer) - s.transcribed
	if force {
		return unread > 0
	}
	if unread < s.minChunkBytes {
		return false
	}
	if unread >= s.chunkBytes {
		return true
	}
	return s.analyzer.SpeechRatio(s.buffer) < s.policy.SpeechRatioThreshold
}

// ExtractChunk returns the next recognition window as normalized samples
// and advances the cursor, leaving the overlap for look-back context.
// Returns nil when no unread audio exists or the window is below the
// silence gate; a silent window does not advance the cursor, so the
// audio stays eligible once speech resumes.
func (s *Session) ExtractChunk() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	available := len(s.buffer) - s.transcribed
	if available <= 0 {
		return nil
	}
	take := available
	if take > s.chunkBytes {
		take = s.chunkBytes
	}

	window := audio.Float32FromPCM16(s.buffer[s.transcribed : s.transcribed+take])
	if len(window) == 0 {
		return nil
	}
	if audio.RMS(window) < s.policy.SilenceRMS {
		return nil
	}

	advance := take - s.overlapBytes
	if advance < 0 {
		advance = 0
	}
	s.transcribed += advance
	return window
}

// Trim drops PCM that recognition has long passed, keeping two chunks of
// history behind the cursor for overlap and pause measurement. Buffer
// and cursor shift together, so unread audio is never touched.
func (s *Session) Trim() {
	s.mu.Lock()
	defer s.mu.Unlock()

	keepAfter := s.transcribed - 2*s.chunkBytes
	if keepAfter <= 0 {
		return
	}
	n := copy(s.buffer, s.buffer[keepAfter:])
	s.buffer = s.buffer[:n]
	s.transcribed -= keepAfter
}
