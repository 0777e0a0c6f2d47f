// Package netcore holds the backend-agnostic state of a networked client and
// server: the connection status, per-channel inbound queues and the outbound
// buffer a messaging backend drains once per tick.
//
// Neither Client nor Server performs I/O or locking. Both are owned by the
// tick loop: a backend inserts received messages and updates the status in
// the ingest phase, application code calls Send and Receive in the update
// phase, and the backend drains sent messages in the flush phase.
//
// Leaving the connected state (client) or stopping (server) discards every
// buffered message, so nothing queued for one session reaches the next.
package netcore
