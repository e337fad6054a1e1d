package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func testEnv() Overlay {
	return Overlay{
		CouncilModels:  []string{"alpha", "beta", "gamma"},
		ChairmanModel:  "delta",
		BackendMode:    BackendLocal,
		BackendBaseURL: "http://localhost:11434",
	}
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "council_config.json")
	return NewStore(path, testEnv(), zap.NewNop()), path
}

func TestGetSeedsOverlayFromEnv(t *testing.T) {
	store, path := newTestStore(t)

	got := store.Get()
	if got.ChairmanModel != "delta" {
		t.Fatalf("chairman = %q, want delta", got.ChairmanModel)
	}
	if len(got.CouncilModels) != 3 {
		t.Fatalf("council size = %d, want 3", len(got.CouncilModels))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("overlay file not written: %v", err)
	}
	var onDisk Overlay
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("overlay file not valid JSON: %v", err)
	}
	if onDisk.ChairmanModel != "delta" {
		t.Fatalf("on-disk chairman = %q, want delta", onDisk.ChairmanModel)
	}
}

func TestOverlayHonoredWhenCriticalKeysMatch(t *testing.T) {
	store, path := newTestStore(t)

	// Same roster (different order) and chairman, different backend URL.
	seed := Overlay{
		CouncilModels:  []string{"gamma", "alpha", "beta"},
		ChairmanModel:  "delta",
		BackendMode:    BackendRemote,
		BackendBaseURL: "https://example.test/v1",
	}
	writeOverlay(t, path, seed)

	got := store.Get()
	if got.BackendBaseURL != "https://example.test/v1" {
		t.Fatalf("base url = %q, want overlay value", got.BackendBaseURL)
	}
	if got.CouncilModels[0] != "gamma" {
		t.Fatalf("overlay roster order not preserved: %v", got.CouncilModels)
	}
}

func TestEnvWinsWhenCriticalKeysDiverge(t *testing.T) {
	store, path := newTestStore(t)

	writeOverlay(t, path, Overlay{
		CouncilModels:  []string{"stale-one", "stale-two"},
		ChairmanModel:  "stale-chair",
		BackendMode:    BackendLocal,
		BackendBaseURL: "http://localhost:11434",
	})

	got := store.Get()
	if got.ChairmanModel != "delta" {
		t.Fatalf("chairman = %q, want env value delta", got.ChairmanModel)
	}

	// The stale file must have been rewritten from the environment.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read overlay: %v", err)
	}
	var onDisk Overlay
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("unmarshal overlay: %v", err)
	}
	if onDisk.ChairmanModel != "delta" {
		t.Fatalf("stale overlay not rewritten, chairman = %q", onDisk.ChairmanModel)
	}
}

func TestUpdateMergesAndSurvivesReload(t *testing.T) {
	store, _ := newTestStore(t)
	store.Get()

	updated, err := store.Update(Overlay{ChairmanModel: "epsilon"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ChairmanModel != "epsilon" {
		t.Fatalf("chairman after update = %q, want epsilon", updated.ChairmanModel)
	}
	if len(updated.CouncilModels) != 3 {
		t.Fatalf("update must not touch the roster: %v", updated.CouncilModels)
	}

	// Reload drops the cache. The updated overlay diverges from the
	// environment on the chairman, so the environment wins again.
	reloaded := store.Reload()
	if reloaded.ChairmanModel != "delta" {
		t.Fatalf("chairman after reload = %q, want env value delta", reloaded.ChairmanModel)
	}
}

func TestUpdateNonCriticalFieldSurvivesReload(t *testing.T) {
	store, _ := newTestStore(t)
	store.Get()

	if _, err := store.Update(Overlay{BackendBaseURL: "http://10.0.0.5:11434"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	reloaded := store.Reload()
	if reloaded.BackendBaseURL != "http://10.0.0.5:11434" {
		t.Fatalf("base url after reload = %q, want updated value", reloaded.BackendBaseURL)
	}
}

func TestMalformedOverlayFallsBackToEnv(t *testing.T) {
	store, path := newTestStore(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := store.Get()
	if got.ChairmanModel != "delta" {
		t.Fatalf("chairman = %q, want env fallback", got.ChairmanModel)
	}
}

func TestCouncilConfigProvider(t *testing.T) {
	store, _ := newTestStore(t)
	cfg := store.CouncilConfig()
	if cfg.Chairman != "delta" || len(cfg.Members) != 3 {
		t.Fatalf("unexpected council config: %+v", cfg)
	}
}

func writeOverlay(t *testing.T, path string, o Overlay) {
	t.Helper()
	raw, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
}
