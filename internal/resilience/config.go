package resilience

import "time"

// Breaker profiles
const (
	// Recognizer dials and dictation session starts: notice a dead recognizer
	// quickly and probe it again soon
	RecognitionThreshold = 3
	RecognitionCooldown  = 10 * time.Second
	RecognitionProbes    = 1

	// Remote translation: ride out short bursts of 5xx before backing off
	TranslationThreshold = 5
	TranslationCooldown  = 30 * time.Second
	TranslationProbes    = 2
)

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Name      string        // label used in logs and metrics
	Threshold int           // consecutive failures before opening
	Cooldown  time.Duration // time spent open before a probe is let through
	Probes    int           // probe successes needed to close
}

// RecognitionBreaker returns the profile for speech recognizer calls.
func RecognitionBreaker(name string) BreakerConfig {
	return BreakerConfig{
		Name:      name,
		Threshold: RecognitionThreshold,
		Cooldown:  RecognitionCooldown,
		Probes:    RecognitionProbes,
	}
}

// TranslationBreaker returns the profile for the translation endpoint.
func TranslationBreaker() BreakerConfig {
	return BreakerConfig{
		Name:      "translation",
		Threshold: TranslationThreshold,
		Cooldown:  TranslationCooldown,
		Probes:    TranslationProbes,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Threshold <= 0 {
		c.Threshold = RecognitionThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = RecognitionCooldown
	}
	if c.Probes <= 0 {
		c.Probes = RecognitionProbes
	}
	return c
}
