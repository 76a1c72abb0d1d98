package resilience

import (
	"context"

	"github.com/MrWong99/clearvox/pkg/license"
)

// AuthorityFallback implements [license.Authority] with automatic failover
// across several license endpoints. Each endpoint has its own circuit breaker.
type AuthorityFallback struct {
	group *FallbackGroup[license.Authority]
}

// Compile-time interface assertion.
var _ license.Authority = (*AuthorityFallback)(nil)

// NewAuthorityFallback creates an [AuthorityFallback] with primary as the
// preferred endpoint. Unless cfg.Final is set, a rejected or expired key is
// treated as the final answer: it is returned without asking the remaining
// authorities and does not trip the answering authority's breaker.
func NewAuthorityFallback(primary license.Authority, primaryName string, cfg FallbackConfig) *AuthorityFallback {
	if cfg.Final == nil {
		cfg.Final = license.IsRejection
	}
	return &AuthorityFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional authority as a fallback.
func (f *AuthorityFallback) AddFallback(name string, a license.Authority) {
	f.group.AddFallback(name, a)
}

// Authorize asks each healthy authority in turn until one grants k.
func (f *AuthorityFallback) Authorize(ctx context.Context, k license.Key) error {
	return f.group.Execute(func(a license.Authority) error {
		return a.Authorize(ctx, k)
	})
}

// ReportUsage delivers u to the first healthy authority that accepts it.
func (f *AuthorityFallback) ReportUsage(ctx context.Context, k license.Key, u license.Usage) error {
	return f.group.Execute(func(a license.Authority) error {
		return a.ReportUsage(ctx, k, u)
	})
}

// States returns each authority's breaker state by name.
func (f *AuthorityFallback) States() map[string]State {
	return f.group.States()
}
