package bus

import (
	"sync"

	"github.com/docsieve/docsieve/pkg/signal"
)

// ThresholdTable maps signal types to minimum confidence values for the
// value gate. The table is configuration, not bus logic: the gate only
// enforces the comparison. It is hot-reloadable, so reads and replacement
// are lock-guarded.
type ThresholdTable struct {
	mu       sync.RWMutex
	byType   map[signal.Type]float64
	fallback float64
}

// NewThresholdTable creates a threshold table. fallback applies to types
// with no explicit entry.
func NewThresholdTable(byType map[signal.Type]float64, fallback float64) *ThresholdTable {
	dup := make(map[signal.Type]float64, len(byType))
	for t, v := range byType {
		dup[t] = v
	}
	return &ThresholdTable{byType: dup, fallback: fallback}
}

// Minimum returns the minimum confidence for a signal type.
func (t *ThresholdTable) Minimum(st signal.Type) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if v, ok := t.byType[st]; ok {
		return v
	}
	return t.fallback
}

// Replace swaps in a new threshold map, used by config hot-reload.
func (t *ThresholdTable) Replace(byType map[signal.Type]float64, fallback float64) {
	dup := make(map[signal.Type]float64, len(byType))
	for ty, v := range byType {
		dup[ty] = v
	}
	t.mu.Lock()
	t.byType = dup
	t.fallback = fallback
	t.mu.Unlock()
}

// Rejection is a gate pipeline failure: which gate fired and the reason
// code recorded on the dead-letter entry.
type Rejection struct {
	Gate   string
	Reason signal.ReasonCode
	Detail string
}

// Gate names, in pipeline order.
const (
	GateScope      = "scope"
	GateValue      = "value"
	GateCapability = "capability"
	GateChannel    = "channel"
)

// GatePipeline runs the ordered admission checks on every publish attempt.
// Gates one to three are pure with respect to bus state; the channel gate
// (capacity under backpressure) runs inside Channel.Enqueue under the
// channel's own lock and is orchestrated by the bus.
type GatePipeline struct {
	registry   *ContractRegistry
	thresholds *ThresholdTable
}

// NewGatePipeline creates a gate pipeline over a registry and threshold
// table.
func NewGatePipeline(registry *ContractRegistry, thresholds *ThresholdTable) *GatePipeline {
	return &GatePipeline{registry: registry, thresholds: thresholds}
}

// CheckScope is gate one: the publisher contract must exist, be ACTIVE, and
// cover the signal's type and channel.
func (g *GatePipeline) CheckScope(sig *signal.Signal) *Rejection {
	contract, err := g.registry.LookupPublisher(sig.Source)
	if err != nil {
		return &Rejection{Gate: GateScope, Reason: signal.ReasonScopeDenied, Detail: "publisher not registered"}
	}
	if contract.Status != signal.StatusActive {
		return &Rejection{Gate: GateScope, Reason: signal.ReasonScopeDenied, Detail: "publisher contract is " + string(contract.Status)}
	}
	if !contract.AllowsType(sig.Type) {
		return &Rejection{Gate: GateScope, Reason: signal.ReasonScopeDenied, Detail: "signal type not in contract"}
	}
	if !contract.AllowsChannel(sig.Channel) {
		return &Rejection{Gate: GateScope, Reason: signal.ReasonScopeDenied, Detail: "channel not in contract"}
	}
	return nil
}

// CheckValue is gate two: the signal's confidence must meet the per-type
// minimum. A missing confidence is zero and passes only a zero threshold.
func (g *GatePipeline) CheckValue(sig *signal.Signal) *Rejection {
	min := g.thresholds.Minimum(sig.Type)
	if sig.Confidence < min {
		return &Rejection{Gate: GateValue, Reason: signal.ReasonValueBelowThreshold, Detail: "confidence below type minimum"}
	}
	return nil
}

// CheckCapability is gate three at publish time: at least one
// capability-compatible consumer must be subscribed on the target channel.
// Per-consumer capability is re-evaluated independently at dispatch time;
// this check only decides admission. When no compatible consumer exists the
// result depends on the channel's no-consumer policy: historize admits the
// signal without queueing it (eligible=false, rejection=nil), deadletter
// rejects it.
func (g *GatePipeline) CheckCapability(sig *signal.Signal, subscribed []*signal.ConsumptionContract, policy NoConsumerPolicy) (eligible bool, rej *Rejection) {
	for _, contract := range subscribed {
		if contract.CanProcess(sig) {
			return true, nil
		}
	}
	if policy == NoConsumerDeadLetter {
		return false, &Rejection{Gate: GateCapability, Reason: signal.ReasonCapabilityMismatch, Detail: "no capability-compatible consumer on channel"}
	}
	return false, nil
}
