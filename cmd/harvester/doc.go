// Package main hosts the harvester entrypoint.
//
// Architecture overview:
//   - Crawl: a colly (or chromedp, when crawler.headless is set) driver walks the configured start URLs and hands
//     every visited page, with its links and their surrounding text, to a bounded worker pool.
//   - Filter: workers keep links with a document extension and ask the relevance filter about them. Decisions are
//     rate limited to a rolling request window, cached (memory or SQLite), and fall back to a keyword heuristic when
//     the language model is unavailable.
//   - Download: approved links are fetched politely per domain into a staging directory and renamed into the
//     finished tree. Duplicates by name are skipped across the whole archive root.
//   - Archive & sort: finished files are uploaded to the remote archive (GCS or memory) and can be filed into
//     grade/subject folders by the classification sorter, locally or remotely for the review queue.
//   - Observability: zap logs carry run ids; counters persist to a JSON file or Postgres; pipeline events are
//     batched by the progress hub into log, Prometheus and Pub/Sub sinks.
//
// Quick checklist:
//   - Configure env vars: HARVESTER_LLM_API_KEY (or a .env file), HARVESTER_CRAWLER_START_URLS,
//     HARVESTER_FILTER_TARGET_SUBJECTS, HARVESTER_ARCHIVE_ENABLED and HARVESTER_ARCHIVE_BUCKET for GCS.
//   - Run once: go run ./cmd/harvester crawl --config config.yaml
//   - Operator API: go run ./cmd/harvester serve, then POST /api/start.
package main
