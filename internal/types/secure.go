package types

const redacted = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a sensitive value (bot token, database URL) and redacts
// itself in fmt output and JSON serialization. Call Unmask only at the point
// the raw value crosses into a client or driver.
type SecretString string

// String returns the redaction placeholder, never the raw value.
func (s SecretString) String() string {
	return redacted
}

// MarshalJSON returns the redaction placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw secret.
func (s SecretString) Unmask() string {
	return string(s)
}
