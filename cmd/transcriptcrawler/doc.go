// Package main hosts the channel transcript crawler.
//
// Architecture overview:
//   - Discovery: a headless Chrome session (internal/browser) scrolls the channel's videos tab until the page height
//     stops changing and collects every watch link. Ids already persisted are marked visited before the crawl starts.
//   - Crawl loop: internal/crawl resolves one video at a time from the frontier, bounded by crawler.job_cap, with a
//     random pause of ratelimit.min_delay..max_delay between jobs.
//   - Acquisition: internal/pipeline tries the structured transcript service, then the rendered transcript panel,
//     then an optional external extraction tool, stopping at the first non-blank transcript.
//   - Persistence: internal/storage writes one artifact per video (local directory, GCS, or memory), never
//     overwriting. An optional manifest (sqlite or Postgres) answers "already saved?" without listing, and an optional
//     Pub/Sub topic receives a notification per artifact.
//   - Shutdown: on SIGINT/SIGTERM internal/shutdown lets the current job finish (bounded by shutdown.drain_timeout),
//     completes an interrupted job itself, and merges every artifact into consolidation.output.
//
// Usage:
//
//	transcriptcrawler -channel @somechannel [-config config.yaml] [-env-file .env]
//
// Without -channel the handle is read from stdin. A handle without the configured sigil exits with status 2 before
// anything is written. Environment variables prefixed CRAWLER_ override configuration keys
// (CRAWLER_STORAGE_DIR, CRAWLER_CRAWLER_JOB_CAP, ...).
package main
