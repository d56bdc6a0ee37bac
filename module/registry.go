// Package module implements the C7 scan pipeline's module registry: it
// resolves a type module by name and enumerates block modules in
// registration order, the role the teacher's handler package plays for
// FUSE handlers.
package module

import (
	"fmt"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/nestybox/sid/domain"
)

var _ domain.ModuleRegistry = (*Registry)(nil)

// Registry is the concrete domain.ModuleRegistry. Block modules are kept
// in a plain registration-order slice, since the scan pipeline's fan-out
// order is part of its contract (spec section 4.4); type modules are
// indexed by name in a radix tree, mirroring the teacher's
// iradix-backed handlerTree in handler/handlerDB.go.
type Registry struct {
	mu sync.RWMutex

	block    []domain.ModuleIface
	typeTree *iradix.Tree
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{typeTree: iradix.New()}
}

// RegisterBlock appends m to the block-module fan-out list. Returns an
// error if m is not a block module or a module of that name is already
// registered.
func (r *Registry) RegisterBlock(m domain.ModuleIface) error {
	if m.Kind() != domain.ModuleKindBlock {
		return fmt.Errorf("module: %s is not a block module", m.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.block {
		if existing.Name() == m.Name() {
			return fmt.Errorf("module: block module %s already registered", m.Name())
		}
	}
	r.block = append(r.block, m)
	return nil
}

// RegisterType indexes m under its name for later lookup by
// SID_NEXT_MOD. Returns an error if m is not a type module or a module
// of that name is already registered.
func (r *Registry) RegisterType(m domain.ModuleIface) error {
	if m.Kind() != domain.ModuleKindType {
		return fmt.Errorf("module: %s is not a type module", m.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, present := r.typeTree.Get([]byte(m.Name())); present {
		return fmt.Errorf("module: type module %s already registered", m.Name())
	}
	tree, _, _ := r.typeTree.Insert([]byte(m.Name()), m)
	r.typeTree = tree
	return nil
}

// BlockModules returns the registered block modules in registration
// order.
func (r *Registry) BlockModules() []domain.ModuleIface {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ModuleIface, len(r.block))
	copy(out, r.block)
	return out
}

// TypeModule resolves name to a registered type module.
func (r *Registry) TypeModule(name string) (domain.ModuleIface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.typeTree.Get([]byte(name))
	if !ok {
		return nil, false
	}
	return v.(domain.ModuleIface), true
}
