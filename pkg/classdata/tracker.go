// Package classdata collects the opaque values a generated class reads back
// through class-data constants.
package classdata

import (
	"sync"

	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

// Supplier produces a class-data value on demand.
type Supplier func() (any, error)

type slot struct {
	value    any
	supplier Supplier
	resolved bool
}

// Tracker is an append-only list of class-data slots. Each registration
// returns the constant that loads its slot in the generated class.
type Tracker struct {
	mu    sync.Mutex
	slots []slot

	// finalizeMu serializes Finalize so each supplier runs once.
	finalizeMu sync.Mutex
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{}
}

// Register appends v and returns a constant that loads it typed as typ.
func (t *Tracker) Register(typ descriptor.Descriptor, v any) constant.Dynamic {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := len(t.slots)
	t.slots = append(t.slots, slot{value: v, resolved: true})
	return constant.ClassDataAt(typ, idx)
}

// RegisterDeferred appends a slot whose value is produced by supplier when
// the tracker is finalized.
func (t *Tracker) RegisterDeferred(typ descriptor.Descriptor, supplier Supplier) constant.Dynamic {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := len(t.slots)
	t.slots = append(t.slots, slot{supplier: supplier})
	return constant.ClassDataAt(typ, idx)
}

// Len returns the number of registered slots.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Empty reports whether nothing was registered.
func (t *Tracker) Empty() bool {
	return t.Len() == 0
}

// Finalize resolves every slot in registration order and returns the values.
// Suppliers run at most once, without the tracker locked, so they may call
// back into it; slots they register are resolved in the same call. A later
// call returns the cached values.
func (t *Tracker) Finalize() ([]any, error) {
	t.finalizeMu.Lock()
	defer t.finalizeMu.Unlock()
	for i := 0; ; i++ {
		t.mu.Lock()
		if i == len(t.slots) {
			out := make([]any, len(t.slots))
			for j, s := range t.slots {
				out[j] = s.value
			}
			t.mu.Unlock()
			return out, nil
		}
		s := t.slots[i]
		t.mu.Unlock()
		if s.resolved {
			continue
		}
		v, err := s.supplier()
		if err != nil {
			return nil, errors.New(errors.PhaseLinkage, errors.KindClassData).
				Value(i).Detail("resolving class data slot %d", i).Cause(err).Build()
		}
		t.mu.Lock()
		t.slots[i] = slot{value: v, resolved: true}
		t.mu.Unlock()
	}
}
