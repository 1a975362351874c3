package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; backend and
// transport endpoints require a restart.
type ConfigDiff struct {
	LogLevelChanged     bool
	NewLogLevel         LogLevel
	DialectStyleChanged bool
	NewDialectStyle     string
	InstructionsChanged bool
	NewInstructions     string
	HistoryLimitChanged bool
	NewHistoryLimit     int
}

// Any reports whether the diff carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.DialectStyleChanged || d.InstructionsChanged || d.HistoryLimitChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Admin.LogLevel != new.Admin.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Admin.LogLevel
	}
	if old.Chat.DialectStyle != new.Chat.DialectStyle {
		d.DialectStyleChanged = true
		d.NewDialectStyle = new.Chat.DialectStyle
	}
	if old.Voice.Instructions != new.Voice.Instructions {
		d.InstructionsChanged = true
		d.NewInstructions = new.Voice.Instructions
	}
	if old.Chat.HistoryLimit != new.Chat.HistoryLimit {
		d.HistoryLimitChanged = true
		d.NewHistoryLimit = new.Chat.HistoryLimit
	}

	return d
}
