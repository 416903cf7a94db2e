package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart and is intentionally ignored here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VAD sensitivity can change mid-session without disturbing an
	// in-progress utterance.
	SilenceThresholdChanged bool
	NewSilenceThreshold     float64

	InsightIntervalChanged bool
	NewInsightInterval     float64

	QuestionIntervalChanged bool
	NewQuestionInterval     float64
}

// Any reports whether the diff carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.SilenceThresholdChanged ||
		d.InsightIntervalChanged || d.QuestionIntervalChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.SilenceThreshold != new.SilenceThreshold {
		d.SilenceThresholdChanged = true
		d.NewSilenceThreshold = new.SilenceThreshold
	}
	if old.InsightInterval != new.InsightInterval {
		d.InsightIntervalChanged = true
		d.NewInsightInterval = new.InsightInterval
	}
	if old.QuestionUpdateInterval != new.QuestionUpdateInterval {
		d.QuestionIntervalChanged = true
		d.NewQuestionInterval = new.QuestionUpdateInterval
	}

	return d
}
