package runtime

import (
	"sync"

	"github.com/livebook-dev/pythonx"
)

// deviceID identifies a registered output device within one runtime.
// 0 is never a valid id.
type deviceID uint32

// deviceTable stores the output devices evaluations register. Registrations
// stay live until the table closes: interpreter threads that outlive their
// evaluation resolve their device through the slot they were handed.
// Explicitly removed slots are recycled through a free list.
type deviceTable struct {
	mu       sync.RWMutex
	entries  []deviceEntry
	freeList []deviceID
	closed   bool
}

type deviceEntry struct {
	device pythonx.Device
	valid  bool
}

func newDeviceTable() *deviceTable {
	return &deviceTable{
		entries:  make([]deviceEntry, 0, 16),
		freeList: make([]deviceID, 0, 8),
	}
}

// register stores a device and returns its id. Returns 0 for a nil device
// or a closed table.
func (t *deviceTable) register(d pythonx.Device) deviceID {
	if d == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0
	}

	e := deviceEntry{device: d, valid: true}
	if len(t.freeList) > 0 {
		id := t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		t.entries[id-1] = e
		return id
	}

	t.entries = append(t.entries, e)
	return deviceID(len(t.entries))
}

// get retrieves a device by id.
func (t *deviceTable) get(id deviceID) (pythonx.Device, bool) {
	if id == 0 {
		return nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := int(id) - 1
	if idx >= len(t.entries) || !t.entries[idx].valid {
		return nil, false
	}
	return t.entries[idx].device, true
}

// remove drops a device registration. The slot is reused by later
// registrations.
func (t *deviceTable) remove(id deviceID) {
	if id == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := int(id) - 1
	if idx >= len(t.entries) || !t.entries[idx].valid {
		return
	}
	t.entries[idx] = deviceEntry{}
	t.freeList = append(t.freeList, id)
}

func (t *deviceTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, e := range t.entries {
		if e.valid {
			count++
		}
	}
	return count
}

func (t *deviceTable) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.entries = nil
	t.freeList = nil
}

// Consumer receives tagged objects sent from evaluated code through
// pythonx.send_tagged_object.
type Consumer interface {
	Deliver(msg Message)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(msg Message)

// Deliver implements Consumer.
func (f ConsumerFunc) Deliver(msg Message) { f(msg) }

// Message is a tagged object delivered to a registered consumer.
type Message struct {
	Tag   string
	Value *Object
}

// nameRegistry maps well-known names to consumers. Evaluated code addresses
// consumers through PID values whose payload is the registered name.
type nameRegistry struct {
	mu      sync.RWMutex
	entries map[string]Consumer
}

func newNameRegistry() *nameRegistry {
	return &nameRegistry{entries: make(map[string]Consumer)}
}

func (r *nameRegistry) register(name string, c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = c
}

func (r *nameRegistry) deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// whereis resolves a name to its consumer.
func (r *nameRegistry) whereis(name string) (Consumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[name]
	return c, ok
}
