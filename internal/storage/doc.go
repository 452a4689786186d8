// Package storage provides the durable submission ledger.
//
// The ledger is a set of (item, destination) keys that were already
// submitted. The reposting flow consults it before each publish so an
// item is never resubmitted to the same destination. Entries are
// permanent until the backing file/database is cleared externally.
package storage
