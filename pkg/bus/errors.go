package bus

import (
	"fmt"
)

// BusClosedError is returned when operating on a closed bus.
type BusClosedError struct{}

func (e *BusClosedError) Error() string {
	return "signal bus is closed"
}

// ChannelNotFoundError is returned when a subscribe or admin operation names
// a channel the bus does not own. On the publish path the same condition is
// a wiring defect and panics instead (the scope gate admits only channels
// from the publisher's contract, which must match the constructed set).
type ChannelNotFoundError struct {
	Channel string
}

func (e *ChannelNotFoundError) Error() string {
	return fmt.Sprintf("channel %s not found", e.Channel)
}

// BackpressureError is returned by a channel enqueue once utilization is at
// or above the backpressure threshold.
type BackpressureError struct {
	Channel  string
	Depth    int
	Capacity int
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("channel %s is saturated (%d/%d queued)", e.Channel, e.Depth, e.Capacity)
}

// ContractNotFoundError is returned by registry lookups for unknown ids.
type ContractNotFoundError struct {
	ID string
}

func (e *ContractNotFoundError) Error() string {
	return fmt.Sprintf("contract not found: %s", e.ID)
}

// SubscriptionExistsError is returned when a consumer subscribes twice to
// the same channel.
type SubscriptionExistsError struct {
	ConsumerID string
	Channel    string
}

func (e *SubscriptionExistsError) Error() string {
	return fmt.Sprintf("consumer %s already subscribed to channel %s", e.ConsumerID, e.Channel)
}

// InvalidContractError is returned when a contract fails structural
// validation at registration time.
type InvalidContractError struct {
	ID     string
	Reason string
}

func (e *InvalidContractError) Error() string {
	return fmt.Sprintf("invalid contract %s: %s", e.ID, e.Reason)
}

// IsContractNotFoundError reports whether err is a ContractNotFoundError.
func IsContractNotFoundError(err error) bool {
	_, ok := err.(*ContractNotFoundError)
	return ok
}

// IsChannelNotFoundError reports whether err is a ChannelNotFoundError.
func IsChannelNotFoundError(err error) bool {
	_, ok := err.(*ChannelNotFoundError)
	return ok
}

// IsBusClosedError reports whether err is a BusClosedError.
func IsBusClosedError(err error) bool {
	_, ok := err.(*BusClosedError)
	return ok
}

func IsBackpressureError(err error) bool {
	_, ok := err.(*BackpressureError)
	return ok
}
