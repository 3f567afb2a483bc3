package system

// AudioSystem configuration constants
const (
	// Event channel buffer for the control server
	EventBuffer = 256

	// Transcript listing default
	DefaultTranscriptLimit = 50
)

// Event types published on Events.
const (
	EventEngineInitialized = "engine_initialized"
	EventVolumeChanged     = "volume_changed"
	EventAmplitude         = "amplitude"
	EventModeChanged       = "mode_changed"
	EventRouteChanged      = "route_changed"
	EventEngineError       = "engine_error"
	EventRecognitionText   = "recognition_text"
	EventRecognitionError  = "recognition_error"
	EventListening         = "listening"
	EventTranslation       = "translation"
	EventTranslationError  = "translation_error"
	EventTranscriptSaved   = "transcript_saved"
	EventTranscriptDeleted = "transcript_deleted"
)
