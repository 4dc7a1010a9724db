package thresholds

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/opensource-survey/kestrel/internal/cache"
	"github.com/opensource-survey/kestrel/internal/domain"
	"github.com/opensource-survey/kestrel/internal/repository"
)

func newTestStore(t *testing.T) (*Store, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-thresholds-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := New(repo, cache.NewLRUCache(100), 5*time.Minute, logger)
	return store, repo
}

func seed(t *testing.T, repo domain.Repository) {
	t.Helper()
	if _, err := repository.SeedDefaultThresholds(context.Background(), repo); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestActiveThresholds(t *testing.T) {
	store, repo := newTestStore(t)
	seed(t, repo)
	ctx := context.Background()

	thresholds, err := store.ActiveThresholds(ctx)
	if err != nil {
		t.Fatalf("ActiveThresholds failed: %v", err)
	}
	if len(thresholds) != 27 {
		t.Fatalf("expected 27 thresholds, got %d", len(thresholds))
	}

	// Second call served from cache, same content.
	again, err := store.ActiveThresholds(ctx)
	if err != nil {
		t.Fatalf("cached ActiveThresholds failed: %v", err)
	}
	if len(again) != len(thresholds) {
		t.Errorf("cached read returned %d thresholds, want %d", len(again), len(thresholds))
	}
}

func TestValueLookup(t *testing.T) {
	store, repo := newTestStore(t)
	seed(t, repo)
	ctx := context.Background()

	thresholds, err := store.ActiveThresholds(ctx)
	if err != nil {
		t.Fatalf("ActiveThresholds failed: %v", err)
	}

	if v := Value(thresholds, "gps_cluster_radius_m", 0); v != 50 {
		t.Errorf("gps_cluster_radius_m = %v, want 50", v)
	}
	if v := Value(thresholds, "straightline_pir_threshold", 0); v != 0.8 {
		t.Errorf("straightline_pir_threshold = %v, want 0.8", v)
	}
	if v := Value(thresholds, "no_such_rule", 42); v != 42 {
		t.Errorf("missing rule should yield fallback 42, got %v", v)
	}
}

func TestByCategory(t *testing.T) {
	store, repo := newTestStore(t)
	seed(t, repo)
	ctx := context.Background()

	thresholds, err := store.ActiveThresholds(ctx)
	if err != nil {
		t.Fatalf("ActiveThresholds failed: %v", err)
	}

	gps := ByCategory(thresholds, domain.CategoryGPS)
	if len(gps) != 6 {
		t.Errorf("expected 6 gps thresholds, got %d", len(gps))
	}
	for _, th := range gps {
		if th.Category != domain.CategoryGPS {
			t.Errorf("unexpected category %s in gps set", th.Category)
		}
	}
}

func TestUpdateThresholdAppendsVersion(t *testing.T) {
	store, repo := newTestStore(t)
	seed(t, repo)
	ctx := context.Background()

	updated, err := store.UpdateThreshold(ctx, "gps_cluster_radius_m", 75, "admin@example.org", nil)
	if err != nil {
		t.Fatalf("UpdateThreshold failed: %v", err)
	}

	if updated.Value != 75 {
		t.Errorf("expected value 75, got %v", updated.Value)
	}
	if updated.Version != 2 {
		t.Errorf("expected version 2, got %d", updated.Version)
	}
	if updated.CreatedBy != "admin@example.org" {
		t.Errorf("expected attribution, got %s", updated.CreatedBy)
	}

	// Carried-forward fields survive.
	if updated.DisplayName != "GPS Cluster Radius (meters)" {
		t.Errorf("display name should carry forward, got %s", updated.DisplayName)
	}
	if updated.Category != domain.CategoryGPS {
		t.Errorf("category should carry forward, got %s", updated.Category)
	}
}

func TestUpdateAppliesImmediately(t *testing.T) {
	store, repo := newTestStore(t)
	seed(t, repo)
	ctx := context.Background()

	// Warm the cache with the old value.
	thresholds, err := store.ActiveThresholds(ctx)
	if err != nil {
		t.Fatalf("ActiveThresholds failed: %v", err)
	}
	if v := Value(thresholds, "gps_teleport_speed_kmh", 0); v != 120 {
		t.Fatalf("expected seeded 120, got %v", v)
	}

	if _, err := store.UpdateThreshold(ctx, "gps_teleport_speed_kmh", 90, "admin", nil); err != nil {
		t.Fatalf("UpdateThreshold failed: %v", err)
	}

	// No stale read: the very next fetch sees the new value.
	thresholds, err = store.ActiveThresholds(ctx)
	if err != nil {
		t.Fatalf("ActiveThresholds after update failed: %v", err)
	}
	if v := Value(thresholds, "gps_teleport_speed_kmh", 0); v != 90 {
		t.Errorf("expected 90 immediately after update, got %v", v)
	}
}

func TestUpdateOptions(t *testing.T) {
	store, repo := newTestStore(t)
	seed(t, repo)
	ctx := context.Background()

	weight := 30.0
	inactive := false
	notes := "tuned after pilot review"

	updated, err := store.UpdateThreshold(ctx, "gps_weight", 30, "admin", &UpdateOptions{
		Weight:   &weight,
		IsActive: &inactive,
		Notes:    &notes,
	})
	if err != nil {
		t.Fatalf("UpdateThreshold failed: %v", err)
	}

	if updated.Weight == nil || *updated.Weight != 30 {
		t.Errorf("expected weight 30, got %v", updated.Weight)
	}
	if updated.IsActive {
		t.Error("expected row to be deactivated")
	}
	if updated.Notes != notes {
		t.Errorf("expected notes override, got %q", updated.Notes)
	}

	// Deactivated rule stays in the set flagged inactive, and value
	// lookups fall back to the default.
	thresholds, err := store.ActiveThresholds(ctx)
	if err != nil {
		t.Fatalf("ActiveThresholds failed: %v", err)
	}
	found := false
	for _, th := range thresholds {
		if th.RuleKey == "gps_weight" {
			found = true
			if th.IsActive {
				t.Error("gps_weight should be flagged inactive")
			}
		}
	}
	if !found {
		t.Error("deactivated rule should remain visible in the current set")
	}
	if v := Value(thresholds, "gps_weight", 99); v != 99 {
		t.Errorf("inactive rule should yield fallback, got %v", v)
	}
}

func TestUpdateUnknownRule(t *testing.T) {
	store, repo := newTestStore(t)
	seed(t, repo)

	_, err := store.UpdateThreshold(context.Background(), "no_such_rule", 1, "admin", nil)
	if !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got: %v", err)
	}
}

func TestCurrentConfigVersion(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	t.Run("EmptyTableDefaultsToOne", func(t *testing.T) {
		v, err := store.CurrentConfigVersion(ctx)
		if err != nil {
			t.Fatalf("CurrentConfigVersion failed: %v", err)
		}
		if v != 1 {
			t.Errorf("expected version 1 on empty table, got %d", v)
		}
	})

	seed(t, repo)
	store.InvalidateCache(ctx)

	t.Run("TracksMaxActiveVersion", func(t *testing.T) {
		if _, err := store.UpdateThreshold(ctx, "speed_weight", 25, "admin", nil); err != nil {
			t.Fatalf("UpdateThreshold failed: %v", err)
		}
		if _, err := store.UpdateThreshold(ctx, "speed_weight", 20, "admin", nil); err != nil {
			t.Fatalf("UpdateThreshold failed: %v", err)
		}

		v, err := store.CurrentConfigVersion(ctx)
		if err != nil {
			t.Fatalf("CurrentConfigVersion failed: %v", err)
		}
		if v != 3 {
			t.Errorf("expected version 3 after two updates, got %d", v)
		}
	})
}

func TestAppendOnlyHistory(t *testing.T) {
	store, repo := newTestStore(t)
	seed(t, repo)
	ctx := context.Background()

	for i, v := range []float64{60, 70, 80} {
		if _, err := store.UpdateThreshold(ctx, "gps_cluster_radius_m", v, "admin", nil); err != nil {
			t.Fatalf("update %d failed: %v", i, err)
		}
	}

	// Exactly one authoritative row remains, carrying the latest value.
	current, err := repo.GetCurrentThreshold(ctx, "gps_cluster_radius_m")
	if err != nil {
		t.Fatalf("GetCurrentThreshold failed: %v", err)
	}
	if current.Value != 80 || current.Version != 4 {
		t.Errorf("expected value 80 version 4, got value=%v version=%d", current.Value, current.Version)
	}
	if !current.Current() {
		t.Error("authoritative row must have nil EffectiveUntil")
	}
}
