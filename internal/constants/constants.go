// Package constants provides centralized constant values used throughout storyloom.
// This package is the single source of truth for all shared constants and MUST NOT
// import any other internal packages.
package constants

import "time"

// File names used for session persistence.
const (
	// SessionFileName is the name of the JSON file that stores the session record.
	SessionFileName = "session.json"

	// CountersFileName is the name of the JSON file that stores session counters.
	CountersFileName = "counters.json"
)

// Directory names and paths used for organizing data.
const (
	// StoryloomHome is the hidden directory name where storyloom stores all its data.
	// This directory is created in the user's home directory.
	StoryloomHome = ".storyloom"

	// SessionsDir is the directory name where session records are stored.
	SessionsDir = "sessions"

	// TasksDir is the directory name where task results are stored.
	TasksDir = "tasks"

	// LogsDir is the directory name where log files are stored.
	LogsDir = "logs"
)

// Engine defaults.
const (
	// DefaultMaxAttempts is the default number of generation attempts per task.
	DefaultMaxAttempts = 3

	// DefaultPassThreshold is the evaluation score a result needs to pass.
	DefaultPassThreshold = 0.7

	// DefaultProviderTimeout is the ceiling for a single provider call.
	DefaultProviderTimeout = 120 * time.Second

	// DefaultPollInterval bounds how long the loop sleeps while waiting for
	// an external decision before re-checking its control flags.
	DefaultPollInterval = 2 * time.Second
)

// Provider retry defaults.
const (
	// DefaultProviderAttempts is the default number of provider calls made
	// for a single generation before a transient failure surfaces.
	DefaultProviderAttempts = 5

	// DefaultBaseBackoff is the delay before the first provider retry.
	DefaultBaseBackoff = 1 * time.Second

	// DefaultBackoffMultiplier grows the delay between provider retries.
	DefaultBackoffMultiplier = 2.0

	// MaxBackoff caps the delay between provider retries.
	MaxBackoff = 60 * time.Second
)

// Session registry defaults.
const (
	// DefaultSweepInterval is how often the registry looks for finished sessions.
	DefaultSweepInterval = 60 * time.Second

	// DefaultGracePeriod is how long a finished session stays in the registry.
	DefaultGracePeriod = 5 * time.Minute
)

// Capability priority bounds.
const (
	// MinPriority is the lowest capability priority.
	MinPriority = 0

	// MaxPriority is the highest capability priority.
	MaxPriority = 100
)

// Memory defaults.
const (
	// DefaultMemoryTopK is the number of related facts pulled into a prompt.
	DefaultMemoryTopK = 5

	// ShortStoryMaxChapters is the largest chapter count accepted in short story mode.
	ShortStoryMaxChapters = 3
)

// Storage defaults.
const (
	// LockTimeout is the maximum duration to wait for a session file lock.
	LockTimeout = 5 * time.Second

	// DefaultRedisKeyPrefix namespaces every Redis key.
	DefaultRedisKeyPrefix = "storyloom"
)

// Schema version constants for data migration support.
const (
	// SessionSchemaVersion is the current version of the session JSON schema.
	SessionSchemaVersion = "1.0"
)
