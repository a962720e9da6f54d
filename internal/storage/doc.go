// Package storage is the bot's small persistence layer:
//   - the tenant registry (paired device handle per tenant)
//   - per-actor command cooldowns
//   - audit log appends (pairing, disconnects, bulk jobs)
//
// Two drivers exist: "sqlite" (modernc, pure Go) and "file" (JSON lines and
// snapshots, no database).
package storage
