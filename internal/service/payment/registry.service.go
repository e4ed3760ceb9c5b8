package payment

import "sync"

// registry holds the running machines of this process, keyed by order id.
type registry struct {
	mu       sync.Mutex
	machines map[string]*Machine
}

func newRegistry() *registry {
	return &registry{machines: map[string]*Machine{}}
}

func (r *registry) get(orderID string) *Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machines[orderID]
}

// putIfAbsent stores m unless a machine is already running for the order,
// in which case that one is returned with loaded=true.
func (r *registry) putIfAbsent(m *Machine) (*Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.machines[m.OrderID()]; ok {
		return existing, true
	}
	r.machines[m.OrderID()] = m
	return m, false
}

// remove deletes m only if it is still the registered machine.
func (r *registry) remove(m *Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.machines[m.OrderID()] == m {
		delete(r.machines, m.OrderID())
	}
}

func (r *registry) removeID(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.machines, orderID)
}

func (r *registry) drain() []*Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*Machine, 0, len(r.machines))
	for id, m := range r.machines {
		all = append(all, m)
		delete(r.machines, id)
	}
	return all
}
