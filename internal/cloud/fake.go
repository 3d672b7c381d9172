package cloud

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Provider for tests and local development
type Fake struct {
	mu        sync.Mutex
	nextID    int
	instances map[string]*InstanceInfo

	// LaunchErr and TerminateErr inject failures when set
	LaunchErr    error
	TerminateErr error

	Launched   []LaunchRequest
	Terminated []string
}

// NewFake creates an empty fake provider
func NewFake() *Fake {
	return &Fake{instances: make(map[string]*InstanceInfo)}
}

// Launch records the request and returns a synthetic provider ID
func (f *Fake) Launch(_ context.Context, req LaunchRequest) (*LaunchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.LaunchErr != nil {
		return nil, f.LaunchErr
	}

	f.nextID++
	providerID := fmt.Sprintf("i-fake%06d", f.nextID)
	f.instances[providerID] = &InstanceInfo{
		ProviderID: providerID,
		State:      "running",
		Zone:       req.Pool.Zone,
	}
	f.Launched = append(f.Launched, req)

	return &LaunchResult{ProviderID: providerID, Zone: req.Pool.Zone}, nil
}

// Terminate marks the instance terminated
func (f *Fake) Terminate(_ context.Context, providerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.TerminateErr != nil {
		return f.TerminateErr
	}

	if info, exists := f.instances[providerID]; exists {
		info.State = "terminated"
	}
	f.Terminated = append(f.Terminated, providerID)
	return nil
}

// Describe returns the fake's view of an instance
func (f *Fake) Describe(_ context.Context, providerID string) (*InstanceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, exists := f.instances[providerID]
	if !exists {
		return nil, fmt.Errorf("describe instance %s: not found", providerID)
	}
	return info, nil
}
