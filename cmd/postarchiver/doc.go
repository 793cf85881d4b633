// Package main hosts the postarchiver entrypoint.
//
// Architecture overview:
//   - archive <field>: internal/records lists the student metadata files of the data directory and yields one
//     record per student. internal/sequencer pulls the records one at a time through a bounded in-memory queue and
//     drives each through Fetching and Writing before touching the next, so at most one GET and one file write are
//     ever in flight.
//   - Fetch pipeline: internal/fetcher follows 301/302 redirects itself, pausing before each hop and giving up after
//     the configured bound. Every GET goes through the Colly transport with automatic redirects disabled, optionally
//     throttled per host by internal/ratelimit. Failures never escape the fetcher; they become "ERROR <reason>" text.
//   - Persistence: internal/storage/local writes <output_base>/<field>/s<id>.html and appends a flushed summary.csv
//     row per record. Optional mirrors copy each record to GCS (internal/storage/gcs) and a Postgres ledger
//     (internal/storage/postgres); a finished batch is announced on Pub/Sub (internal/publisher/pubsub). Mirror and
//     notification failures are logged, never fatal.
//   - annotate: internal/annotator serves the archived posts, the annotate page and the annotation store, persisting
//     every change to a JSON database file.
//   - Configuration & plumbing: Viper populates config from a YAML file and ARCHIVER_* env vars; zap provides
//     structured logging; Prometheus metrics are exposed on /metrics by the annotator and, when enabled, by the
//     archive command.
//
// Quick checklist:
//   - Configure env vars: ARCHIVER_ARCHIVE_DATA_DIR, ARCHIVER_ARCHIVE_OUTPUT_BASE, ARCHIVER_HTTP_TIMEOUT_SECONDS,
//     ARCHIVER_STORAGE_GCS_BUCKET, ARCHIVER_DB_DSN and ARCHIVER_PUBSUB_* when the optional sinks are wanted.
//   - Run locally: go run ./cmd/postarchiver archive Post1 --config config.yaml.
//   - Exit status is non-zero when the data directory cannot be listed, the output directory cannot be prepared,
//     the summary cannot be written, or the batch is interrupted.
package main
