package widget

// SpeechOutput reads bot replies aloud. Real implementations wrap a platform
// speech API; environments without one use NoopSpeech.
type SpeechOutput interface {
	Speak(text string)
}

// NoopSpeech discards all speech requests.
type NoopSpeech struct{}

// Speak does nothing.
func (NoopSpeech) Speak(string) {}
