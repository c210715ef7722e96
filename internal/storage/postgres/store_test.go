package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/sitelens/discovery/internal/discovery"
)

func TestCreateSiteInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewSiteStore(mock)

	now := time.Unix(1700000000, 0).UTC()
	site := discovery.Site{
		ID:        "site-1",
		Domain:    "shop.example.com",
		Platform:  "shopify",
		Status:    discovery.SiteStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO sites").
		WithArgs(
			site.ID, site.Domain, site.Platform, "pending",
			site.ComplexityScore, site.BusinessValueScore, []byte(nil),
			site.BlueprintVersion, site.CreatedAt, site.UpdatedAt,
			site.LastDiscoveredAt, site.Notes, site.CreatedBy,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateSite(context.Background(), site))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSiteDecodesFingerprint(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewSiteStore(mock)

	now := time.Unix(1700000000, 0).UTC()
	fpJSON, err := json.Marshal(discovery.Fingerprint{Platform: "shopify"})
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{
		"id", "domain", "platform", "status", "complexity_score",
		"business_value_score", "fingerprint", "blueprint_version",
		"created_at", "updated_at", "last_discovered_at", "notes", "created_by",
	}).AddRow(
		"site-1", "shop.example.com", "shopify", "fingerprinted", 0.5,
		0.0, fpJSON, 0, now, now, (*time.Time)(nil), "", "",
	)

	mock.ExpectQuery("SELECT (.+) FROM sites WHERE id").
		WithArgs("site-1").
		WillReturnRows(rows)

	site, err := store.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	require.Equal(t, discovery.SiteStatusFingerprinted, site.Status)
	require.NotNil(t, site.Fingerprint)
	require.Equal(t, "shopify", site.Fingerprint.Platform)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSiteNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewSiteStore(mock)

	mock.ExpectQuery("SELECT (.+) FROM sites WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetSite(context.Background(), "missing")
	require.ErrorIs(t, err, discovery.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobRejectsTerminalRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)

	now := time.Unix(1700000000, 0).UTC()
	job := discovery.Job{
		ID:        "job-1",
		SiteID:    "site-1",
		Kind:      discovery.JobKindDiscover,
		Status:    discovery.JobStatusRunning,
		CreatedAt: now,
	}

	mock.ExpectExec("UPDATE jobs SET").
		WithArgs(
			job.ID, "running", job.Priority, job.Attempt,
			job.StartedAt, job.EndedAt, job.HeartbeatAt, job.WorkerID,
			job.ErrorCode, job.ErrorMessage, []byte(nil), []byte(nil),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	rows := pgxmock.NewRows([]string{
		"id", "site_id", "kind", "status", "priority", "attempt",
		"max_retries", "created_at", "started_at", "ended_at",
		"heartbeat_at", "worker_id", "error_code", "error_message",
		"payload", "result",
	}).AddRow(
		"job-1", "site-1", "discover", "success", 0, 0,
		3, now, (*time.Time)(nil), (*time.Time)(nil),
		(*time.Time)(nil), "", "", "",
		[]byte(nil), []byte(nil),
	)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(rows)

	err = store.UpdateJob(context.Background(), job)
	require.ErrorIs(t, err, discovery.ErrTerminalJob)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasActiveJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("site-1", "discover").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	active, err := store.HasActiveJob(context.Background(), "site-1", discovery.JobKindDiscover)
	require.NoError(t, err)
	require.True(t, active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitBlueprintRunsTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewBlueprintStore(mock)

	now := time.Unix(1700000000, 0).UTC()
	bp := discovery.Blueprint{
		ID:         "bp-1",
		SiteID:     "site-1",
		Version:    3,
		Confidence: 0.82,
		CreatedAt:  now,
		CreatedBy:  "pipeline",
		JobID:      "job-1",
	}
	categories, endpoints, renderHints, selectors, err := marshalBlueprintJSON(bp)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO blueprints").
		WithArgs(
			bp.ID, bp.SiteID, bp.Version, bp.Confidence,
			categories, endpoints, renderHints, selectors,
			bp.CreatedAt, bp.CreatedBy, bp.Notes, bp.JobID,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE sites SET").
		WithArgs(bp.SiteID, "discovered", bp.Version, bp.CreatedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Commit(context.Background(), bp))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitBlueprintDuplicateVersion(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewBlueprintStore(mock)

	bp := discovery.Blueprint{ID: "bp-1", SiteID: "site-1", Version: 3}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO blueprints").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err = store.Commit(context.Background(), bp)
	require.ErrorIs(t, err, discovery.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestBlueprintNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewBlueprintStore(mock)

	mock.ExpectQuery("SELECT (.+) FROM blueprints WHERE site_id").
		WithArgs("site-1").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Latest(context.Background(), "site-1")
	require.ErrorIs(t, err, discovery.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveTemplates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewTemplateStore(mock)

	now := time.Unix(1700000000, 0).UTC()
	selJSON, err := json.Marshal(map[string]string{"name": ".product-title"})
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{
		"id", "platform", "variant", "category_selectors",
		"product_list_selectors", "api_endpoints", "render_hints",
		"match_patterns", "confidence", "active", "created_at",
	}).AddRow(
		"tpl-1", "shopify", "", []byte(nil),
		selJSON, []byte(nil), []byte(nil),
		[]byte(nil), 0.9, true, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM platform_templates").
		WithArgs("Shopify").
		WillReturnRows(rows)

	templates, err := store.ListActive(context.Background(), "Shopify")
	require.NoError(t, err)
	require.Len(t, templates, 1)
	require.Equal(t, ".product-title", templates[0].ProductListSelectors["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}
