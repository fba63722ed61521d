package state

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

func TestNormalizeDomains(t *testing.T) {
	got := NormalizeDomains([]string{
		" YouTube.com ",
		"https://reddit.com/r/all",
		"youtube.com",
		"",
		"news.ycombinator.com.",
	})
	want := []string{"news.ycombinator.com", "reddit.com", "youtube.com"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NormalizeDomains mismatch (-want +got):\n%s", diff)
	}
}

func TestGlobal_Mode(t *testing.T) {
	g := New(nil)
	if g.Mode() != "" {
		t.Fatalf("initial mode = %q, want empty", g.Mode())
	}
	if prev := g.SetMode(model.ModeGatekeeper); prev != "" {
		t.Errorf("prev = %q", prev)
	}
	if prev := g.SetMode(model.ModeOpen); prev != model.ModeGatekeeper {
		t.Errorf("prev = %q, want gatekeeper", prev)
	}
}

func TestGlobal_FocusDomainsCopy(t *testing.T) {
	g := New([]string{"a.com"})
	d := g.FocusDomains()
	d[0] = "mutated.com"
	if g.FocusDomains()[0] != "a.com" {
		t.Error("FocusDomains returned the internal slice")
	}
}

func TestGlobal_Concurrent(t *testing.T) {
	g := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.SetFocusDomains([]string{"x.com", "y.com"})
		}()
		go func() {
			defer wg.Done()
			_ = g.FocusDomains()
			_ = g.Mode()
		}()
	}
	wg.Wait()
	if len(g.FocusDomains()) != 2 {
		t.Errorf("got %v", g.FocusDomains())
	}
}
