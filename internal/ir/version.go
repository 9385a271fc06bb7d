package ir

// Version constants for records and the dispatcher.
const (
	// RecordVersion is the journal record schema version.
	RecordVersion = "1"

	// EngineVersion is the dispatchr engine version.
	EngineVersion = "0.1.0"
)
