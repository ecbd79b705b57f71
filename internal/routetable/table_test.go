package routetable

import (
	"testing"

	"github.com/rivetr/controlplane/internal/models"
)

func TestLookupExactAndPortStripped(t *testing.T) {
	table := New()
	backend := &models.Backend{Host: "127.0.0.1", Port: 9000}
	table.Put("App.Example.com", backend)

	if got, ok := table.Lookup("app.example.com"); !ok || got != backend {
		t.Fatalf("expected exact lowercase match, got %v, %v", got, ok)
	}
	if got, ok := table.Lookup("app.example.com:443"); !ok || got != backend {
		t.Fatalf("expected port-stripped match, got %v, %v", got, ok)
	}
	if _, ok := table.Lookup("other.example.com"); ok {
		t.Fatalf("expected no match for unrelated host")
	}
}

func TestDeleteBackendRemovesAllAliases(t *testing.T) {
	table := New()
	backend := &models.Backend{Host: "127.0.0.1", Port: 9000}
	table.Put("primary.example.com", backend)
	table.Put("alias.example.com", backend)
	table.Put("unrelated.example.com", &models.Backend{Host: "127.0.0.1", Port: 9001})

	table.DeleteBackend(backend)

	if table.HasDomain("primary.example.com") || table.HasDomain("alias.example.com") {
		t.Fatalf("expected both aliases of the deleted backend to be gone")
	}
	if !table.HasDomain("unrelated.example.com") {
		t.Fatalf("expected unrelated domain to survive")
	}
}

func TestUpdateHealthHysteresis(t *testing.T) {
	table := New()
	backend := &models.Backend{Host: "127.0.0.1", Port: 9000, Healthy: true}
	table.Put("app.example.com", backend)

	const threshold = 3

	for i := 0; i < threshold-1; i++ {
		flipped := table.UpdateHealth("app.example.com", false, threshold)
		if flipped {
			t.Fatalf("did not expect a flip before reaching the threshold (failure %d)", i+1)
		}
		if !backend.Healthy {
			t.Fatalf("backend should still be healthy before the threshold is reached")
		}
	}

	if flipped := table.UpdateHealth("app.example.com", false, threshold); !flipped {
		t.Fatalf("expected a flip to unhealthy at the threshold")
	}
	if backend.Healthy {
		t.Fatalf("expected backend to be unhealthy after reaching the threshold")
	}

	if flipped := table.UpdateHealth("app.example.com", true, threshold); !flipped {
		t.Fatalf("expected a single success to immediately flip back to healthy")
	}
	if !backend.Healthy || backend.ConsecutiveFailures != 0 {
		t.Fatalf("expected healthy=true and failures reset after one success")
	}
}

func TestPutThenDeleteLeavesTableUnchanged(t *testing.T) {
	table := New()
	before := table.Domains()

	table.Put("app.example.com", &models.Backend{Host: "127.0.0.1", Port: 9000})
	table.Delete("app.example.com")

	after := table.Domains()
	if len(before) != 0 || len(after) != 0 {
		t.Fatalf("expected an empty domain set both before and after a put-then-delete round trip, got before=%v after=%v", before, after)
	}
	if table.HasDomain("app.example.com") {
		t.Fatalf("expected no route to remain after delete")
	}
}

func TestUpdateHealthUnknownDomain(t *testing.T) {
	table := New()
	if table.UpdateHealth("missing.example.com", true, 3) {
		t.Fatalf("expected no flip for a domain with no route")
	}
}
