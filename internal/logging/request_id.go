package logging

import "github.com/google/uuid"

// GenerateRequestID returns a random identifier for correlating the log
// lines of one operation.
func GenerateRequestID() string {
	return uuid.NewString()
}
