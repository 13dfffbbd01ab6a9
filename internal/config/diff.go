package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; a storage or
// provider change still requires a restart.
type ConfigDiff struct {
	LogLevelChanged   bool
	NewLogLevel       LogLevel
	VocabularyChanged bool
	NewVocabulary     []string
	SnippetChanged    bool
	NewSnippetRunes   int
}

// Any reports whether the diff carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.VocabularyChanged || d.SnippetChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Pipeline.Vocabulary, new.Pipeline.Vocabulary) {
		d.VocabularyChanged = true
		d.NewVocabulary = slices.Clone(new.Pipeline.Vocabulary)
	}

	if old.Pipeline.SnippetRunes != new.Pipeline.SnippetRunes {
		d.SnippetChanged = true
		d.NewSnippetRunes = new.Pipeline.SnippetRunes
	}

	return d
}
