package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistryRecordsCounters(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())

	reg.RecordRatchetDHTurn("owner")
	reg.RecordRatchetDHTurn("owner")
	reg.RecordEnvelopeFailure("blob")
	reg.RecordCallKeyRotation()
	reg.RecordPrekeysReplenished()
	reg.RecordInviteAcceptFailure("INVITE_EXPIRED")
	reg.SetSkippedCacheSize(7)
	reg.SetPrekeysRemaining(42)

	if got := testutil.ToFloat64(reg.ratchetDHTurns.WithLabelValues("owner")); got != 2 {
		t.Fatalf("expected 2 owner DH turns, got %v", got)
	}
	if got := testutil.ToFloat64(reg.envelopeFailures.WithLabelValues("blob")); got != 1 {
		t.Fatalf("expected 1 blob envelope failure, got %v", got)
	}
	if got := testutil.ToFloat64(reg.callKeyRotations); got != 1 {
		t.Fatalf("expected 1 call key rotation, got %v", got)
	}
	if got := testutil.ToFloat64(reg.prekeysRemaining); got != 42 {
		t.Fatalf("expected prekeysRemaining 42, got %v", got)
	}
	if got := testutil.ToFloat64(reg.skippedCacheSize); got != 7 {
		t.Fatalf("expected skippedCacheSize 7, got %v", got)
	}
}

func TestNilRegistryMethodsAreNoOps(t *testing.T) {
	var reg *Registry

	reg.RecordRatchetDHTurn("owner")
	reg.RecordEnvelopeFailure("blob")
	reg.SetSkippedCacheSize(1)
	reg.RecordCallKeyRotation()
	reg.RecordPrekeysReplenished()
	reg.SetPrekeysRemaining(1)
	reg.RecordInviteAcceptFailure("x")
}
