package testevents

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL       string        // Base URL of the service
	Users         int           // Number of distinct users
	EventsPerUser int           // Events generated per user, including the astro onboarding
	Workers       int           // Users processed concurrently
	Timeout       time.Duration // HTTP request timeout
	DuplicateRate float64       // Share of events posted a second time, in [0,1]
	Seed          uint64        // Generator seed; equal seeds produce equal events
	OutputFile    string        // Optional JSONL dump of generated events
	Verbose       bool          // Log every rejected event
}

// Defaults used by the CLI.
const (
	DefaultUsers         = 200
	DefaultEventsPerUser = 20
	DefaultTimeout       = 30 * time.Second
	DefaultDuplicateRate = 0.05
)

// Stats holds run statistics.
type Stats struct {
	UsersGenerated    int
	EventsGenerated   int
	EventsSubmitted   int
	EventsAccepted    int
	EventsDuplicate   int
	EventsRejected    int
	EventsFailed      int
	SnapshotsVerified int
	Violations        int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
