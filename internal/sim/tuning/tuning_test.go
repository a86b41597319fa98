package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"voxelresidency.ai/internal/sim/residency"
)

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadOverlaysDefaults(t *testing.T) {
	p := writeTuning(t, "tick_rate_hz: 5\nchunk_unload_delay: 1500ms\n")
	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TickRateHz != 5 {
		t.Fatalf("tick_rate_hz: got %d want 5", got.TickRateHz)
	}
	if got.UnloadDelay() != 1500*time.Millisecond {
		t.Fatalf("delay: got %s want 1.5s", got.UnloadDelay())
	}
	if got.ViewRadius != Defaults().ViewRadius {
		t.Fatalf("view_radius should keep its default, got %d", got.ViewRadius)
	}
}

func TestDefaultDelayIsTenSeconds(t *testing.T) {
	if got := Defaults().UnloadDelay(); got != 10*time.Second {
		t.Fatalf("default delay: got %s want 10s", got)
	}
	p := writeTuning(t, "")
	got, err := Load(p)
	if err != nil {
		t.Fatalf("load empty file: %v", err)
	}
	if got.UnloadDelay() != 10*time.Second {
		t.Fatalf("empty file delay: got %s want 10s", got.UnloadDelay())
	}
}

func TestZeroAndNegativeDelayDisable(t *testing.T) {
	for _, v := range []string{"0", "0s", "-5s"} {
		p := writeTuning(t, "chunk_unload_delay: \""+v+"\"\n")
		got, err := Load(p)
		if err != nil {
			t.Fatalf("%s: load: %v", v, err)
		}
		if got.UnloadDelay() != 0 {
			t.Fatalf("%s: got %s want 0", v, got.UnloadDelay())
		}
	}
}

func TestLoadRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"non-numeric delay": "chunk_unload_delay: soon\n",
		"delay as number":   "chunk_unload_delay: 10\n",
		"unknown key":       "chunk_unload_dealy: 10s\n",
		"tick rate zero":    "tick_rate_hz: 0\n",
		"radius too large":  "view_radius: 99\n",
		"bad yaml":          "tick_rate_hz: [\n",
	}
	for name, body := range cases {
		if _, err := Load(writeTuning(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadRepoConfig(t *testing.T) {
	got, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load configs/tuning.yaml: %v", err)
	}
	if got.UnloadDelay() != 10*time.Second {
		t.Fatalf("repo config delay: got %s want 10s", got.UnloadDelay())
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	p := writeTuning(t, "chunk_unload_delay: 10s\n")
	w, err := Watch(p)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(p, []byte("chunk_unload_delay: 3s\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-w.Updates:
			if got.UnloadDelay() == 3*time.Second {
				return
			}
		case err := <-w.Errors:
			t.Logf("watch error (retrying): %v", err)
		case <-deadline:
			t.Fatalf("no reload within 5s")
		}
	}
}

func TestSubMillisecondDelayStaysDelayed(t *testing.T) {
	p := writeTuning(t, "chunk_unload_delay: 500us\n")
	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.UnloadDelay() != 500*time.Microsecond {
		t.Fatalf("delay: got %s want 500us", got.UnloadDelay())
	}
	sc := residency.NewScheduler(nil, got.UnloadDelay())
	if !sc.Delayed() || sc.GraceMillis() != 1 {
		t.Fatalf("scheduler: got delayed=%v ms=%d want true/1", sc.Delayed(), sc.GraceMillis())
	}
}
