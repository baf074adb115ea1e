package bus

import (
	"testing"

	"github.com/docsieve/docsieve/pkg/signal"
)

func TestRegisterPublisherValidation(t *testing.T) {
	r := NewContractRegistry()

	tests := []struct {
		name     string
		contract *signal.PublicationContract
		ok       bool
	}{
		{"valid", &signal.PublicationContract{
			PublisherID:     "p1",
			AllowedTypes:    []signal.Type{signal.TypeChunkProduced},
			AllowedChannels: []string{"chunking"},
		}, true},
		{"empty id", &signal.PublicationContract{
			AllowedTypes:    []signal.Type{signal.TypeChunkProduced},
			AllowedChannels: []string{"chunking"},
		}, false},
		{"no channels", &signal.PublicationContract{
			PublisherID:  "p2",
			AllowedTypes: []signal.Type{signal.TypeChunkProduced},
		}, false},
		{"no types", &signal.PublicationContract{
			PublisherID:     "p3",
			AllowedChannels: []string{"chunking"},
		}, false},
	}
	for _, tt := range tests {
		err := r.RegisterPublisher(tt.contract)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestRegisterPublisherDefaultsActive(t *testing.T) {
	r := NewContractRegistry()
	if err := r.RegisterPublisher(&signal.PublicationContract{
		PublisherID:     "p1",
		AllowedTypes:    []signal.Type{signal.TypeChunkProduced},
		AllowedChannels: []string{"chunking"},
	}); err != nil {
		t.Fatalf("RegisterPublisher: %v", err)
	}

	contract, err := r.LookupPublisher("p1")
	if err != nil {
		t.Fatalf("LookupPublisher: %v", err)
	}
	if contract.Status != signal.StatusActive {
		t.Errorf("Status = %s, want ACTIVE", contract.Status)
	}
}

func TestRegisterPublisherReplaces(t *testing.T) {
	r := NewContractRegistry()
	first := &signal.PublicationContract{
		PublisherID:     "p1",
		AllowedTypes:    []signal.Type{signal.TypeChunkProduced},
		AllowedChannels: []string{"chunking"},
	}
	if err := r.RegisterPublisher(first); err != nil {
		t.Fatal(err)
	}
	if err := r.RevokePublisher("p1"); err != nil {
		t.Fatal(err)
	}

	// Re-registration reinstates the publisher.
	if err := r.RegisterPublisher(first); err != nil {
		t.Fatal(err)
	}
	contract, _ := r.LookupPublisher("p1")
	if contract.Status != signal.StatusActive {
		t.Errorf("re-registered contract status = %s, want ACTIVE", contract.Status)
	}
}

func TestRevokeAndSuspendPublisher(t *testing.T) {
	r := NewContractRegistry()
	r.RegisterPublisher(&signal.PublicationContract{
		PublisherID:     "p1",
		AllowedTypes:    []signal.Type{signal.TypeChunkProduced},
		AllowedChannels: []string{"chunking"},
	})

	if err := r.SuspendPublisher("p1"); err != nil {
		t.Fatalf("SuspendPublisher: %v", err)
	}
	contract, _ := r.LookupPublisher("p1")
	if contract.Status != signal.StatusSuspended {
		t.Errorf("Status = %s, want SUSPENDED", contract.Status)
	}

	if err := r.RevokePublisher("p1"); err != nil {
		t.Fatalf("RevokePublisher: %v", err)
	}
	contract, _ = r.LookupPublisher("p1")
	if contract.Status != signal.StatusRevoked {
		t.Errorf("Status = %s, want REVOKED", contract.Status)
	}

	if err := r.RevokePublisher("missing"); !IsContractNotFoundError(err) {
		t.Errorf("expected contract not found, got %v", err)
	}
	if err := r.SuspendPublisher("missing"); !IsContractNotFoundError(err) {
		t.Errorf("expected contract not found, got %v", err)
	}
}

func TestConsumerLifecycle(t *testing.T) {
	r := NewContractRegistry()

	if err := r.RegisterConsumer(&signal.ConsumptionContract{
		ConsumerID:    "c1",
		Channels:      []string{"scoring"},
		AcceptedTypes: []signal.Type{signal.TypeScoreOutlier},
	}); err != nil {
		t.Fatalf("RegisterConsumer: %v", err)
	}
	if err := r.RegisterConsumer(&signal.ConsumptionContract{ConsumerID: "c2"}); err == nil {
		t.Error("consumer without channels should be rejected")
	}

	if _, err := r.LookupConsumer("c1"); err != nil {
		t.Fatalf("LookupConsumer: %v", err)
	}

	if err := r.RemoveConsumer("c1"); err != nil {
		t.Fatalf("RemoveConsumer: %v", err)
	}
	if _, err := r.LookupConsumer("c1"); !IsContractNotFoundError(err) {
		t.Errorf("expected contract not found after removal, got %v", err)
	}
	if err := r.RemoveConsumer("c1"); !IsContractNotFoundError(err) {
		t.Errorf("double removal should report not found, got %v", err)
	}
}

func TestLookupReturnsCopies(t *testing.T) {
	r := NewContractRegistry()
	r.RegisterPublisher(&signal.PublicationContract{
		PublisherID:     "p1",
		AllowedTypes:    []signal.Type{signal.TypeChunkProduced},
		AllowedChannels: []string{"chunking"},
	})

	contract, _ := r.LookupPublisher("p1")
	contract.Status = signal.StatusRevoked

	fresh, _ := r.LookupPublisher("p1")
	if fresh.Status != signal.StatusActive {
		t.Error("mutating a looked-up contract must not affect the registry")
	}
}

func TestListContracts(t *testing.T) {
	r := NewContractRegistry()
	r.RegisterPublisher(&signal.PublicationContract{
		PublisherID:     "p1",
		AllowedTypes:    []signal.Type{signal.TypeChunkProduced},
		AllowedChannels: []string{"chunking"},
	})
	r.RegisterConsumer(&signal.ConsumptionContract{
		ConsumerID:    "c1",
		Channels:      []string{"scoring"},
		AcceptedTypes: []signal.Type{signal.TypeScoreOutlier},
	})

	if got := len(r.ListPublishers()); got != 1 {
		t.Errorf("ListPublishers = %d, want 1", got)
	}
	if got := len(r.ListConsumers()); got != 1 {
		t.Errorf("ListConsumers = %d, want 1", got)
	}
}
