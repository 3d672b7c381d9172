package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// RemoteProvider delegates the decision to an external HTTP service. The
// service receives the full input and answers with a recommendation; the
// gateway's timeout and fallback make it safe for the service to be slow
// or down.
type RemoteProvider struct {
	url    string
	client *http.Client
}

// NewRemoteProvider creates a provider that POSTs to the given endpoint
func NewRemoteProvider(url string) *RemoteProvider {
	return &RemoteProvider{
		url:    url,
		client: &http.Client{},
	}
}

// Name identifies the provider in audit records
func (p *RemoteProvider) Name() string { return "remote" }

// Decide posts the input and decodes the recommendation
func (p *RemoteProvider) Decide(ctx context.Context, input *Input) (*Recommendation, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode decision input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build decision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call decision service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("decision service returned status %d", resp.StatusCode)
	}

	var rec Recommendation
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode recommendation: %w", err)
	}

	if rec.Action != ActionStay && rec.Action != ActionSwitch {
		return nil, fmt.Errorf("decision service returned unknown action %q", rec.Action)
	}
	if rec.Action == ActionSwitch && rec.TargetPool == "" {
		return nil, fmt.Errorf("decision service recommended a switch without a target pool")
	}

	rec.Provider = p.Name()
	return &rec, nil
}
