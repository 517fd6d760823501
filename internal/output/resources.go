package output

import (
	"fmt"
	"slices"
	"sync"
)

// ResourceTable tracks which pins of which device addresses are bound to an
// output. Each family owns one table. Safe for concurrent use.
type ResourceTable struct {
	mu   sync.Mutex
	used map[string]map[string]int64 // address -> pin -> output ID
}

// NewResourceTable returns an empty table.
func NewResourceTable() *ResourceTable {
	return &ResourceTable{used: make(map[string]map[string]int64)}
}

// Claim binds address/pin to outputID. Claiming a pin already held by the
// same output is a no-op; any other holder yields ErrPinInUse.
func (t *ResourceTable) Claim(address, pin string, outputID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pins, ok := t.used[address]
	if !ok {
		pins = make(map[string]int64)
		t.used[address] = pins
	}
	if holder, ok := pins[pin]; ok && holder != outputID {
		return fmt.Errorf("%w: %s/%s held by output %d", ErrPinInUse, address, pin, holder)
	}
	pins[pin] = outputID
	return nil
}

// Release frees address/pin. The address record is deleted with its last
// pin. It reports whether the address has no pins left.
func (t *ResourceTable) Release(address, pin string) (empty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pins, ok := t.used[address]
	if !ok {
		return true
	}
	delete(pins, pin)
	if len(pins) == 0 {
		delete(t.used, address)
		return true
	}
	return false
}

// InUse reports whether address/pin is claimed.
func (t *ResourceTable) InUse(address, pin string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.used[address][pin]
	return ok
}

// Holder returns the output bound to address/pin.
func (t *ResourceTable) Holder(address, pin string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.used[address][pin]
	return id, ok
}

// Used returns the claimed pins of address in ascending order.
func (t *ResourceTable) Used(address string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	pins := make([]string, 0, len(t.used[address]))
	for p := range t.used[address] {
		pins = append(pins, p)
	}
	slices.Sort(pins)
	return pins
}

// Addresses returns every address with at least one claimed pin.
func (t *ResourceTable) Addresses() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	addrs := make([]string, 0, len(t.used))
	for a := range t.used {
		addrs = append(addrs, a)
	}
	slices.Sort(addrs)
	return addrs
}

// Holders returns the output IDs bound to address.
func (t *ResourceTable) Holders(address string) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int64, 0, len(t.used[address]))
	for _, id := range t.used[address] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
