package blueprint

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
)

type fakeBlueprintStore struct {
	committed []discovery.Blueprint
	commitErr error
}

func (s *fakeBlueprintStore) Commit(_ context.Context, bp discovery.Blueprint) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	for _, existing := range s.committed {
		if existing.SiteID == bp.SiteID && existing.Version == bp.Version {
			return discovery.ErrConflict
		}
	}
	s.committed = append(s.committed, bp)
	return nil
}

func (s *fakeBlueprintStore) Latest(_ context.Context, siteID string) (discovery.Blueprint, error) {
	var latest discovery.Blueprint
	found := false
	for _, bp := range s.committed {
		if bp.SiteID == siteID && bp.Version > latest.Version {
			latest = bp
			found = true
		}
	}
	if !found {
		return discovery.Blueprint{}, discovery.ErrNotFound
	}
	return latest, nil
}

func (s *fakeBlueprintStore) Get(_ context.Context, siteID string, version int) (discovery.Blueprint, error) {
	for _, bp := range s.committed {
		if bp.SiteID == siteID && bp.Version == version {
			return bp, nil
		}
	}
	return discovery.Blueprint{}, discovery.ErrNotFound
}

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newVersioner(store *fakeBlueprintStore) *Versioner {
	return NewVersioner(store, &seqIDs{}, fixedClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}, zap.NewNop())
}

func successResult() discovery.DiscoveryResult {
	return discovery.DiscoveryResult{
		Success:    true,
		Confidence: 0.72,
		Categories: discovery.CategoryResult{
			Categories: map[string][]string{
				"collections": {"electronics", "kitchen"},
			},
			Confidence: 0.1,
		},
		Selectors: discovery.SelectorResult{
			Selectors: map[string]discovery.Selector{
				"name": {FieldName: "name", CSSSelector: "h1.product-title", Confidence: 1.0},
			},
			FieldsFound: []string{"name"},
		},
		Endpoints: discovery.EndpointResult{
			Endpoints: []discovery.Endpoint{{URL: "https://shop.example.com/api/catalog", Method: "GET"}},
		},
		RenderHints: discovery.RenderHints{TimeoutSeconds: 30},
	}
}

func TestCommitResult_FirstVersionIsOne(t *testing.T) {
	t.Parallel()

	store := &fakeBlueprintStore{}
	bp, err := newVersioner(store).CommitResult(context.Background(), "site-1", "job-1", successResult())
	require.NoError(t, err)

	require.Equal(t, 1, bp.Version)
	require.Equal(t, "site-1", bp.SiteID)
	require.Equal(t, "job-1", bp.JobID)
	require.InDelta(t, 0.72, bp.Confidence, 1e-9)
	require.Len(t, store.committed, 1)
}

func TestCommitResult_VersionsIncrease(t *testing.T) {
	t.Parallel()

	store := &fakeBlueprintStore{}
	v := newVersioner(store)

	for want := 1; want <= 3; want++ {
		bp, err := v.CommitResult(context.Background(), "site-1", fmt.Sprintf("job-%d", want), successResult())
		require.NoError(t, err)
		require.Equal(t, want, bp.Version)
	}
}

func TestCommitResult_FlattensCategoryTree(t *testing.T) {
	t.Parallel()

	store := &fakeBlueprintStore{}
	bp, err := newVersioner(store).CommitResult(context.Background(), "site-1", "job-1", successResult())
	require.NoError(t, err)

	require.Len(t, bp.Categories, 3)
	require.Equal(t, "collections", bp.Categories[0].Name)
	require.Equal(t, 0, bp.Categories[0].Depth)
	require.Equal(t, "electronics", bp.Categories[1].Name)
	require.Equal(t, "collections", bp.Categories[1].ParentID)
	require.Equal(t, 1, bp.Categories[1].Depth)
	require.Equal(t, "kitchen", bp.Categories[2].Name)
}

func TestCommitResult_RejectsFailedDiscovery(t *testing.T) {
	t.Parallel()

	store := &fakeBlueprintStore{}
	_, err := newVersioner(store).CommitResult(context.Background(), "site-1", "job-1", discovery.DiscoveryResult{
		Success: false,
		Error:   "robots.txt disallows /",
	})
	require.Error(t, err)
	require.Empty(t, store.committed)
}

func TestCommitResult_SurfacesConflict(t *testing.T) {
	t.Parallel()

	store := &fakeBlueprintStore{commitErr: discovery.ErrConflict}
	_, err := newVersioner(store).CommitResult(context.Background(), "site-1", "job-1", successResult())
	require.ErrorIs(t, err, discovery.ErrConflict)
}

func TestRollback_RoundTrip(t *testing.T) {
	t.Parallel()

	store := &fakeBlueprintStore{}
	v := newVersioner(store)

	_, err := v.CommitResult(context.Background(), "site-1", "job-1", successResult())
	require.NoError(t, err)

	second := successResult()
	second.Confidence = 0.9
	_, err = v.CommitResult(context.Background(), "site-1", "job-2", second)
	require.NoError(t, err)

	rolled, err := v.Rollback(context.Background(), "site-1", 1, "ops")
	require.NoError(t, err)

	require.Equal(t, 3, rolled.Version, "rollback is a new version, never a decrement")
	require.Equal(t, "ops", rolled.CreatedBy)

	original, err := store.Get(context.Background(), "site-1", 1)
	require.NoError(t, err)
	require.InDelta(t, original.Confidence, rolled.Confidence, 1e-9)
	require.Equal(t, original.Categories, rolled.Categories)
	require.Equal(t, original.Endpoints, rolled.Endpoints)
	require.Equal(t, original.Selectors, rolled.Selectors)
	require.Equal(t, original.RenderHints, rolled.RenderHints)

	// Prior versions survive.
	require.Len(t, store.committed, 3)
}

func TestRollback_UnknownVersion(t *testing.T) {
	t.Parallel()

	store := &fakeBlueprintStore{}
	_, err := newVersioner(store).Rollback(context.Background(), "site-1", 4, "ops")
	require.ErrorIs(t, err, discovery.ErrNotFound)
}
