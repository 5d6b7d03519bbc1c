package conductor

import "testing"

func TestIdentityMapBindAndLookup(t *testing.T) {
	m := NewIdentityMap()
	m.Bind("durable-1", "proto-1")

	if got, ok := m.DurableFor("proto-1"); !ok || got != "durable-1" {
		t.Errorf("DurableFor = %q, %v; want durable-1, true", got, ok)
	}
	if got, ok := m.ProtocolFor("durable-1"); !ok || got != "proto-1" {
		t.Errorf("ProtocolFor = %q, %v; want proto-1, true", got, ok)
	}
}

func TestIdentityMapRebindReplacesProtocolID(t *testing.T) {
	m := NewIdentityMap()
	m.Bind("durable-1", "proto-1")
	m.Bind("durable-1", "proto-2")

	if _, ok := m.DurableFor("proto-1"); ok {
		t.Error("stale protocol ID still resolves after rebind")
	}
	if got, ok := m.DurableFor("proto-2"); !ok || got != "durable-1" {
		t.Errorf("DurableFor(proto-2) = %q, %v; want durable-1, true", got, ok)
	}
	if got, _ := m.ProtocolFor("durable-1"); got != "proto-2" {
		t.Errorf("ProtocolFor = %q, want proto-2", got)
	}
}

func TestIdentityMapUnbind(t *testing.T) {
	m := NewIdentityMap()
	m.Bind("durable-1", "proto-1")
	m.Unbind("durable-1")

	if _, ok := m.DurableFor("proto-1"); ok {
		t.Error("protocol ID resolves after unbind")
	}
	if _, ok := m.ProtocolFor("durable-1"); ok {
		t.Error("durable ID resolves after unbind")
	}

	// Unbinding an unknown ID is a no-op.
	m.Unbind("durable-2")
}

func TestIdentityMapUnknownLookups(t *testing.T) {
	m := NewIdentityMap()

	if _, ok := m.DurableFor("proto-x"); ok {
		t.Error("unknown protocol ID should not resolve")
	}
	if _, ok := m.ProtocolFor("durable-x"); ok {
		t.Error("unknown durable ID should not resolve")
	}
}
