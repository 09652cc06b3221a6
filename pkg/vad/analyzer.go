package vad

// Frame and window geometry for the trailing-speech measurement.
const (
	FrameMS  = 20
	WindowMS = 400

	// DefaultSpeechRatioThreshold is the ratio below which the trailing
	// window is considered a pause.
	DefaultSpeechRatioThreshold = 0.35

	// DisabledRatioThreshold can never be undercut by a measured ratio,
	// which disables pause triggering outright.
	DisabledRatioThreshold = -1.0
)

// Analyzer measures the fraction of speech frames in the trailing window
// of a PCM buffer.
type Analyzer struct {
	classifier  FrameClassifier
	sampleRate  int
	sampleWidth int
}

// NewAnalyzer builds an analyzer over the given classifier. A nil
// classifier degrades to the non-speech NopClassifier.
func NewAnalyzer(classifier FrameClassifier, sampleRate, sampleWidth int) *Analyzer {
	if classifier == nil {
		classifier = NopClassifier{}
	}
	return &Analyzer{
		classifier:  classifier,
		sampleRate:  sampleRate,
		sampleWidth: sampleWidth,
	}
}

// SpeechRatio classifies the trailing window of buffer in fixed frames and
// returns speechFrames/totalFrames. A trailing partial frame is discarded.
// Classifier errors count the frame as non-speech. An empty tail yields 0.
func (a *Analyzer) SpeechRatio(buffer []byte) float64 {
	bytesPerMS := a.sampleRate * a.sampleWidth / 1000
	frameBytes := bytesPerMS * FrameMS
	windowBytes := bytesPerMS * WindowMS
	if frameBytes == 0 {
		return 0.0
	}

	tail := buffer
	if len(tail) > windowBytes {
		tail = tail[len(tail)-windowBytes:]
	}
	if len(tail) == 0 {
		return 0.0
	}

	frames := 0
	speech := 0
	for i := 0; i+frameBytes <= len(tail); i += frameBytes {
		frames++
		ok, err := a.classifier.IsSpeech(tail[i:i+frameBytes], a.sampleRate)
		if err != nil {
			continue
		}
		if ok {
			speech++
		}
	}
	if frames == 0 {
		return 0.0
	}
	return float64(speech) / float64(frames)
}
