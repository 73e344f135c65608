package providerfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/token/refresh"
)

var _ refresh.Provider = (*FakeProvider)(nil)

// FakeProvider is a scripted refresh.Provider that records every call.
type FakeProvider struct {
	renew func(refreshToken string, n int) (*refresh.Grant, error)

	lock    sync.Mutex
	calls   []string
	gate    chan struct{}
	started chan struct{}
}

// NewRotatingProvider issues access-N / refresh-N on the Nth call.
func NewRotatingProvider() *FakeProvider {
	return NewFakeProvider(func(_ string, n int) (*refresh.Grant, error) {
		return &refresh.Grant{
			AccessToken:  fmt.Sprintf("access-%d", n),
			RefreshToken: utils.Ptr(fmt.Sprintf("refresh-%d", n)),
		}, nil
	})
}

// NewFailingProvider fails every call with err.
func NewFailingProvider(err error) *FakeProvider {
	return NewFakeProvider(func(string, int) (*refresh.Grant, error) {
		return nil, err
	})
}

func NewFakeProvider(renew func(refreshToken string, n int) (*refresh.Grant, error)) *FakeProvider {
	return &FakeProvider{
		renew:   renew,
		started: make(chan struct{}, 64),
	}
}

// Hold makes subsequent calls block until Release.
func (p *FakeProvider) Hold() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.gate = make(chan struct{})
}

func (p *FakeProvider) Release() {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
	}
}

// Started receives once per call, before the call blocks on Hold.
func (p *FakeProvider) Started() <-chan struct{} {
	return p.started
}

// Calls returns the refresh tokens presented so far.
func (p *FakeProvider) Calls() []string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *FakeProvider) Renew(ctx context.Context, refreshToken string) (*refresh.Grant, error) {
	p.lock.Lock()
	p.calls = append(p.calls, refreshToken)
	n := len(p.calls)
	gate := p.gate
	p.lock.Unlock()

	select {
	case p.started <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, refresh.Transient(ctx.Err())
		}
	}
	return p.renew(refreshToken, n)
}
