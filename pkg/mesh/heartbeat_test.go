package mesh

import (
	"testing"

	"github.com/nmxmxh/sporemesh/pkg/wire"
)

func TestOpportunisticGraftAddsExtraMembersWhenMedianWeak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DLow = 1
	m := New("status", cfg, seeded(11))

	// one weak member already satisfies d_low, so the mesh median stays
	// below the opportunistic threshold and only the opportunistic step
	// can admit the stronger outsiders.
	m.AddPeer("weak", 0.05)
	m.HandleGraft("weak")
	for i := 0; i < 5; i++ {
		id := wire.PeerID(rune('a' + i))
		m.AddPeer(id, 0.8)
	}

	m.Heartbeat()
	if len(m.MeshMembers()) <= cfg.DLow {
		t.Fatalf("expected opportunistic grafting to add beyond d_low=%d, got %d", cfg.DLow, len(m.MeshMembers()))
	}
}

func TestWeakLinkReplacementSwapsWhenOutsiderClearlyStronger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DLow, cfg.DHigh = 1, 1
	m := New("status", cfg, seeded(12))

	m.AddPeer("weak", 0.01)
	m.Heartbeat() // grafts "weak" to fill d_low=1

	if !m.InMesh("weak") {
		t.Fatalf("expected weak to be grafted first")
	}

	m.AddPeer("strong", 0.99)
	m.Heartbeat()

	if m.InMesh("weak") {
		t.Fatalf("expected weak to be replaced")
	}
	if !m.InMesh("strong") {
		t.Fatalf("expected strong to replace weak")
	}
}

func TestLazyPushAnnouncesRecentMessagesToOutsiders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DLow, cfg.DHigh = 0, 0
	m := New("status", cfg, seeded(13))
	m.AddPeer("outsider-a", 0.5)
	m.AddPeer("outsider-b", 0.5)
	m.RecordMessage("outsider-a", "msg-1")

	directives := m.Heartbeat()
	found := false
	for _, d := range directives {
		if d.Control.Kind == wire.ControlIHave {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected at least one IHave lazy-push directive")
	}
}
