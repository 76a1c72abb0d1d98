package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/clearvox/pkg/enhance"
	"github.com/MrWong99/clearvox/pkg/license"
)

// ErrNotRegistered is returned by the lookup methods when no factory has
// been registered under the requested name.
var ErrNotRegistered = errors.New("config: not registered")

// Registry maps kernel names and authority types to their constructors. It
// is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	kernels     map[string]enhance.KernelFactory
	authorities map[string]func(AuthorityEntry) (license.Authority, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		kernels:     make(map[string]enhance.KernelFactory),
		authorities: make(map[string]func(AuthorityEntry) (license.Authority, error)),
	}
}

// RegisterKernel registers a kernel factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterKernel(name string, factory enhance.KernelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kernels[name] = factory
}

// RegisterAuthority registers a license authority constructor under typ.
func (r *Registry) RegisterAuthority(typ string, factory func(AuthorityEntry) (license.Authority, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authorities[typ] = factory
}

// Kernel returns the factory registered under name.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) Kernel(name string) (enhance.KernelFactory, error) {
	r.mu.RLock()
	factory, ok := r.kernels[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: kernel/%q", ErrNotRegistered, name)
	}
	return factory, nil
}

// CreateAuthority instantiates a license authority using the constructor
// registered under entry.Type.
func (r *Registry) CreateAuthority(entry AuthorityEntry) (license.Authority, error) {
	r.mu.RLock()
	factory, ok := r.authorities[entry.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: authority/%q", ErrNotRegistered, entry.Type)
	}
	return factory(entry)
}
