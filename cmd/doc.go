// Package cmd defines the CLI commands of the pnrr executable.
//
// Architecture overview:
//   - serve: builds the application, exposes the HTTP API (internal/api) and,
//     when schedule.enabled is set, triggers a daily ingestion run through
//     internal/scheduler. SIGINT/SIGTERM drain the server, stop the scheduler
//     and flush the progress hub.
//   - fetch: performs a single ingestion run and prints the run statistics as
//     JSON. The exit status is non-zero when the run fails.
//   - sources: lists the configured school catalogue.
//
// Configuration is read by internal/config from an optional .env file, the
// --config file and PNRR_* environment variables, in increasing precedence.
// Examples:
//
//	pnrr serve --config config.yaml
//	PNRR_STORE_BACKEND=memory pnrr fetch
package cmd
