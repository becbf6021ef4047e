package constants

// Log file names.
const (
	// CLILogFileName is the name of the global CLI log file.
	// This file is located in ~/.storyloom/logs/storyloom.log
	CLILogFileName = "storyloom.log"
)

// Configuration file names.
const (
	// GlobalConfigName is the name of the global configuration file.
	// This file is located in the storyloom home directory.
	GlobalConfigName = "config.yaml"

	// ProjectConfigDir is the project-level configuration directory.
	ProjectConfigDir = ".storyloom"

	// ProjectConfigName is the project-level configuration file inside ProjectConfigDir.
	ProjectConfigName = "config.yaml"

	// EnvPrefix prefixes every environment variable override.
	EnvPrefix = "STORYLOOM"
)

// NATS subject layout.
const (
	// DefaultSubjectPrefix is the root of every subject published or consumed.
	DefaultSubjectPrefix = "storyloom"

	// EventsSubjectToken separates outbound event subjects.
	EventsSubjectToken = "events"

	// ControlSubjectToken separates inbound control subjects.
	ControlSubjectToken = "control"
)

// Log rotation settings for the CLI log file.
const (
	// LogMaxSizeMB is the size at which the log file is rotated.
	LogMaxSizeMB = 10

	// LogMaxBackups is the number of rotated files kept.
	LogMaxBackups = 3

	// LogMaxAgeDays is how long rotated files are kept.
	LogMaxAgeDays = 14

	// LogCompress gzips rotated files.
	LogCompress = true
)
