package types

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// GenerateAgentID generates a unique agent ID with prefix
func GenerateAgentID() string {
	return fmt.Sprintf("agt_%s", ksuid.New().String())
}

// GenerateInstanceID generates a unique instance ID with prefix
func GenerateInstanceID() string {
	return fmt.Sprintf("ins_%s", ksuid.New().String())
}

// GenerateReplicaID generates a unique replica ID with prefix
func GenerateReplicaID() string {
	return fmt.Sprintf("rep_%s", ksuid.New().String())
}

// GenerateSampleID generates a unique price sample ID with prefix
func GenerateSampleID() string {
	return fmt.Sprintf("smp_%s", ksuid.New().String())
}

// GenerateCommandID generates a unique command ID with prefix
func GenerateCommandID() string {
	return fmt.Sprintf("cmd_%s", ksuid.New().String())
}

// GenerateJobID generates a unique consolidation job ID with prefix
func GenerateJobID() string {
	return fmt.Sprintf("job_%s", ksuid.New().String())
}

// GenerateEventID generates a unique audit event ID with prefix
func GenerateEventID() string {
	return fmt.Sprintf("evt_%s", ksuid.New().String())
}

// GenerateID generates a generic unique ID
func GenerateID() string {
	return ksuid.New().String()
}
