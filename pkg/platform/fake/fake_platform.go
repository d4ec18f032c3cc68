// Package fake provides a scripted platform client for tests and dry runs.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/chriscow/callbridge-go/pkg/platform"
	"github.com/chriscow/callbridge-go/pkg/plugin"
	"github.com/chriscow/callbridge-go/pkg/transport"
)

// Platform returns a fixed registration and replays Statuses on GetCall.
// Once the script is exhausted the last status repeats.
type Platform struct {
	mu sync.Mutex

	Registration platform.Registration
	RegisterErr  error

	Statuses []platform.CallStatus
	// Errs[i], when non-nil, is returned by the i-th GetCall instead of a status.
	Errs map[int]error

	registered []platform.RegisterRequest
	polls      int
}

// New returns a Platform that reports the call as ongoing.
func New() *Platform {
	return &Platform{
		Registration: platform.Registration{
			ProviderCallID: "fake-call-1",
			Credential:     "fake-credential",
			SampleRate:     16000,
			Transport:      transport.KindTokenJoin,
		},
		Statuses: []platform.CallStatus{{Status: "ongoing"}},
	}
}

// Name implements platform.Client.
func (p *Platform) Name() string { return "fake" }

// Register implements platform.Client.
func (p *Platform) Register(ctx context.Context, req platform.RegisterRequest) (*platform.Registration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, req)
	if p.RegisterErr != nil {
		return nil, p.RegisterErr
	}
	reg := p.Registration
	return &reg, nil
}

// GetCall implements platform.Client.
func (p *Platform) GetCall(ctx context.Context, providerCallID string) (*platform.CallStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.polls
	p.polls++
	if err := p.Errs[i]; err != nil {
		return nil, err
	}
	if len(p.Statuses) == 0 {
		return nil, fmt.Errorf("no scripted status")
	}
	st := p.Statuses[min(i, len(p.Statuses)-1)]
	return &st, nil
}

// Polls returns how many times GetCall was invoked.
func (p *Platform) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

// Registered returns every Register request.
func (p *Platform) Registered() []platform.RegisterRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]platform.RegisterRequest(nil), p.registered...)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        platform.PluginKind,
		Name:        "fake",
		Factory:     func(map[string]any) (any, error) { return New(), nil },
		Description: "Scripted platform for testing and development",
		Version:     "1.0.0",
	})
}
