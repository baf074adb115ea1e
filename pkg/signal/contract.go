package signal

// ContractStatus is the lifecycle state of a publication contract.
type ContractStatus string

const (
	// StatusActive allows publishing.
	StatusActive ContractStatus = "ACTIVE"
	// StatusSuspended temporarily blocks publishing without losing the registration.
	StatusSuspended ContractStatus = "SUSPENDED"
	// StatusRevoked permanently blocks publishing until re-registration.
	StatusRevoked ContractStatus = "REVOKED"
)

// PublicationContract authorizes a publisher on a set of channels and types.
// It is owned by the publisher and mutated only through explicit
// registration or revocation, never implicitly.
type PublicationContract struct {
	// PublisherID is the publisher identity.
	PublisherID string `json:"publisher_id"`

	// AllowedTypes are the signal types the publisher may emit.
	AllowedTypes []Type `json:"allowed_types"`

	// AllowedChannels are the channels the publisher may target.
	AllowedChannels []string `json:"allowed_channels"`

	// Status is the contract lifecycle state.
	Status ContractStatus `json:"status"`
}

// AllowsType reports whether the contract permits the given signal type.
func (c *PublicationContract) AllowsType(t Type) bool {
	for _, allowed := range c.AllowedTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// AllowsChannel reports whether the contract permits the given channel.
func (c *PublicationContract) AllowsChannel(channel string) bool {
	for _, allowed := range c.AllowedChannels {
		if allowed == channel {
			return true
		}
	}
	return false
}

// ConsumptionContract declares what a consumer subscribes to and what
// payload shapes it can process. Capability tags drive gate 3 and
// per-consumer routing at dispatch time.
type ConsumptionContract struct {
	// ConsumerID is the consumer identity.
	ConsumerID string `json:"consumer_id"`

	// Channels are the channels the consumer subscribes to.
	Channels []string `json:"channels"`

	// AcceptedTypes are the signal types the consumer processes.
	AcceptedTypes []Type `json:"accepted_types"`

	// Capabilities are tags describing the payload shapes the consumer can
	// process. A consumer with no capability tags accepts any shape.
	Capabilities []string `json:"capabilities,omitempty"`
}

// SubscribesTo reports whether the contract covers the given channel.
func (c *ConsumptionContract) SubscribesTo(channel string) bool {
	for _, ch := range c.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// AcceptsType reports whether the contract accepts the given signal type.
func (c *ConsumptionContract) AcceptsType(t Type) bool {
	for _, accepted := range c.AcceptedTypes {
		if accepted == t {
			return true
		}
	}
	return false
}

// CanProcess reports whether the consumer is capability-compatible with the
// signal: it must accept the type, and every scope tag on the signal must be
// covered by the consumer's capability tags. An empty capability set accepts
// all shapes.
func (c *ConsumptionContract) CanProcess(sig *Signal) bool {
	if !c.AcceptsType(sig.Type) {
		return false
	}
	if len(c.Capabilities) == 0 {
		return true
	}
	for _, scope := range sig.Context.Scopes {
		if !containsString(c.Capabilities, scope) {
			return false
		}
	}
	return true
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
