// Package containers starts the external services used by integration tests.
//
// It provides:
//
//   - a MySQL 8.0 container backing the durable sync queue and cache tables
//   - an ntfy server receiving notifications relayed by the push notifier
//   - an Eclipse Mosquitto broker receiving relayed status events
//
// Integration tests carry the "integration" build tag:
//
//	//go:build integration
//
// and run with:
//
//	go test -tags=integration ./...
package containers
