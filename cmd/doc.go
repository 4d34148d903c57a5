// Package cmd defines the serverlist CLI.
//
// Architecture overview:
//   - fetch: one run walks the public server listing of a place page by page through the Colly fetcher,
//     keeps every server with a free slot, and writes the result as a JSON snapshot. A failing page is retried
//     with linear backoff (longer for HTTP 429) on the same cursor; exceeding the retry budget aborts the run
//     without touching the snapshot.
//   - Persistence: the snapshot file is replaced atomically and only when its bytes change. Raw pages can be
//     archived to a local directory or a GCS bucket for diagnostics.
//   - Fanout: a rewritten snapshot triggers a Pub/Sub notice when a topic is configured, and every run (failed
//     ones included) appends a row to a Postgres ledger when a DSN is configured.
//   - Configuration & plumbing: Viper populates config from an optional file plus SERVERLIST_* env vars; zap
//     provides structured logging; Prometheus collectors can be dumped to a textfile at the end of the run.
//
// Quick checklist:
//   - Run locally: go run . fetch --config config.yaml (or rely solely on env overrides).
//   - Schedule with cron or a Cloud Run job; exit status is non-zero whenever the snapshot was not refreshed
//     because of an error.
package cmd
