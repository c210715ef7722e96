// Package main hosts the discovery service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, site and job management, and blueprint
//     endpoints. Site submissions are normalized and persisted before any job is enqueued.
//   - Jobs & workers: jobs flow through a bounded in-memory queue sized by config.Jobs.QueueDepth and are
//     fanned out to a fixed worker pool sized by config.Jobs.Workers. Each job runs under a hard time
//     budget with heartbeats; terminal job records are immutable and retries are new job rows.
//   - Compliance gate: every fetch passes through robots.txt checks, crawl-policy filters, public-content
//     checks, and per-origin politeness pacing. Blocked work fails closed with a compliance error code.
//   - Discovery pipeline: workers fetch statically via Colly, promote to headless Chromedp rendering when
//     the fingerprint demands it, then run the phased analysis: structure, categories, products,
//     selectors, endpoints, pagination. Raw page snapshots are archived best-effort to the configured
//     blob store (local/GCS).
//   - Persistence & fanout: sites, jobs, blueprints and curated platform templates live in Postgres (or
//     in-memory stores for local runs). Blueprint commits advance the owning site atomically and versions
//     only move forward; rollback reissues an old payload as a new version. Completion events are
//     published to Pub/Sub when a project is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging;
//     Prometheus metrics are exported via /metrics. The optional LLM selector generation capability is
//     decided once at startup from the configured API key.
//
// Run locally: go run ./cmd/discoveryd -config config.yaml (or rely solely on DISCOVERY_* env overrides).
package main
