package bus

import (
	"sync"

	"github.com/docsieve/docsieve/pkg/signal"
)

// ContractRegistry holds publication and consumption contracts. Publish
// volume dwarfs registration, so lookups take a read lock and writes are
// rare. There is no implicit contract creation: a publish or subscribe from
// an unregistered id fails the scope gate.
type ContractRegistry struct {
	mu         sync.RWMutex
	publishers map[string]*signal.PublicationContract
	consumers  map[string]*signal.ConsumptionContract
}

// NewContractRegistry creates an empty registry.
func NewContractRegistry() *ContractRegistry {
	return &ContractRegistry{
		publishers: make(map[string]*signal.PublicationContract),
		consumers:  make(map[string]*signal.ConsumptionContract),
	}
}

// RegisterPublisher registers or replaces a publication contract.
// Registration is idempotent by publisher id. An empty status defaults to
// ACTIVE.
func (r *ContractRegistry) RegisterPublisher(contract *signal.PublicationContract) error {
	if contract.PublisherID == "" {
		return &InvalidContractError{ID: "", Reason: "publisher id cannot be empty"}
	}
	if len(contract.AllowedChannels) == 0 {
		return &InvalidContractError{ID: contract.PublisherID, Reason: "allowed channels cannot be empty"}
	}
	if len(contract.AllowedTypes) == 0 {
		return &InvalidContractError{ID: contract.PublisherID, Reason: "allowed types cannot be empty"}
	}

	dup := *contract
	if dup.Status == "" {
		dup.Status = signal.StatusActive
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[dup.PublisherID] = &dup
	return nil
}

// RegisterConsumer registers or replaces a consumption contract.
func (r *ContractRegistry) RegisterConsumer(contract *signal.ConsumptionContract) error {
	if contract.ConsumerID == "" {
		return &InvalidContractError{ID: "", Reason: "consumer id cannot be empty"}
	}
	if len(contract.Channels) == 0 {
		return &InvalidContractError{ID: contract.ConsumerID, Reason: "channels cannot be empty"}
	}
	if len(contract.AcceptedTypes) == 0 {
		return &InvalidContractError{ID: contract.ConsumerID, Reason: "accepted types cannot be empty"}
	}

	dup := *contract

	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[dup.ConsumerID] = &dup
	return nil
}

// RevokePublisher marks a publisher contract REVOKED. The contract stays
// registered so that a replay of its dead-lettered signals produces the
// same rejection. Signals already queued are unaffected.
func (r *ContractRegistry) RevokePublisher(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	contract, ok := r.publishers[id]
	if !ok {
		return &ContractNotFoundError{ID: id}
	}
	contract.Status = signal.StatusRevoked
	return nil
}

// SuspendPublisher marks a publisher contract SUSPENDED.
func (r *ContractRegistry) SuspendPublisher(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	contract, ok := r.publishers[id]
	if !ok {
		return &ContractNotFoundError{ID: id}
	}
	contract.Status = signal.StatusSuspended
	return nil
}

// RemoveConsumer removes a consumption contract. No new delivery to that id
// succeeds afterward; in-flight deliveries are unaffected.
func (r *ContractRegistry) RemoveConsumer(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.consumers[id]; !ok {
		return &ContractNotFoundError{ID: id}
	}
	delete(r.consumers, id)
	return nil
}

// LookupPublisher returns the publication contract for an id.
func (r *ContractRegistry) LookupPublisher(id string) (*signal.PublicationContract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	contract, ok := r.publishers[id]
	if !ok {
		return nil, &ContractNotFoundError{ID: id}
	}
	dup := *contract
	return &dup, nil
}

// LookupConsumer returns the consumption contract for an id.
func (r *ContractRegistry) LookupConsumer(id string) (*signal.ConsumptionContract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	contract, ok := r.consumers[id]
	if !ok {
		return nil, &ContractNotFoundError{ID: id}
	}
	dup := *contract
	return &dup, nil
}

// ListPublishers returns a copy of all publication contracts.
func (r *ContractRegistry) ListPublishers() []*signal.PublicationContract {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*signal.PublicationContract, 0, len(r.publishers))
	for _, c := range r.publishers {
		dup := *c
		out = append(out, &dup)
	}
	return out
}

// ListConsumers returns a copy of all consumption contracts.
func (r *ContractRegistry) ListConsumers() []*signal.ConsumptionContract {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*signal.ConsumptionContract, 0, len(r.consumers))
	for _, c := range r.consumers {
		dup := *c
		out = append(out, &dup)
	}
	return out
}
