// Package mock provides a test double for license.Authority.
//
// Use Authority to inject authorization and reporting failures and to inspect
// every request the engine made.
//
// Example:
//
//	auth := &mock.Authority{AuthorizeErr: license.ErrUnreachable}
//	// ... later, let authorization succeed:
//	auth.SetAuthorizeErr(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/clearvox/pkg/license"
)

// Authority is a mock implementation of license.Authority.
type Authority struct {
	mu sync.Mutex

	// AuthorizeErr, if non-nil, is returned by every Authorize call.
	AuthorizeErr error

	// ReportErr, if non-nil, is returned by every ReportUsage call.
	ReportErr error

	// --- Call records ---

	// AuthorizeCalls records the key of every Authorize call in order.
	AuthorizeCalls []license.Key

	// ReportCalls records every ReportUsage call in order.
	ReportCalls []license.Usage
}

// Authorize records the call and returns AuthorizeErr.
func (a *Authority) Authorize(ctx context.Context, k license.Key) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.AuthorizeCalls = append(a.AuthorizeCalls, k)
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.AuthorizeErr
}

// ReportUsage records the call and returns ReportErr.
func (a *Authority) ReportUsage(ctx context.Context, _ license.Key, u license.Usage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ReportCalls = append(a.ReportCalls, u)
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.ReportErr
}

// SetAuthorizeErr replaces AuthorizeErr. Thread-safe.
func (a *Authority) SetAuthorizeErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.AuthorizeErr = err
}

// SetReportErr replaces ReportErr. Thread-safe.
func (a *Authority) SetReportErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ReportErr = err
}

// AuthorizeCount returns the number of Authorize calls so far. Thread-safe.
func (a *Authority) AuthorizeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.AuthorizeCalls)
}

// Reports returns a copy of the recorded usage reports. Thread-safe.
func (a *Authority) Reports() []license.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]license.Usage, len(a.ReportCalls))
	copy(out, a.ReportCalls)
	return out
}

// Ensure Authority implements license.Authority at compile time.
var _ license.Authority = (*Authority)(nil)
