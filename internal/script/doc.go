// Package script runs hook and application scripts as subprocesses.
//
// Every script is spawned and awaited before the next one starts. The calling
// convention is fixed: positional arguments only, an explicit working
// directory, and no stdin.
//
// Timeout handling:
//   - Each run has a deadline (scripts.timeout, or the context deadline if sooner)
//   - When it expires, SIGTERM is sent to the script
//   - After a 5 second grace period, SIGKILL is sent if it is still running
//
// Stderr is captured (capped at 64KB) so callers can log it next to the
// failure of the app or hook that produced it.
package script
