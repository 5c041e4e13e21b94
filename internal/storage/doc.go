// Package storage keeps the audit trail of operator actions and reminder
// deliveries.
//
// Reminders themselves live only in memory; the store records what happened
// to them. Two drivers exist: "file" writes JSON Lines and "sqlite" uses the
// pure-Go modernc.org/sqlite driver.
package storage
