// Package store persists conversation sessions.
//
// Backends:
//   - memory: bounded LRU, volatile (default)
//   - file: one JSON document per session under a directory
//   - sqlite: single table, WAL journal
//   - postgres: single table, JSONB payload
//
// Every backend returns a zero conversation.Session for unseen ids, gives
// read-your-writes per id and never interprets session fields. Backends that
// implement Pruner can be swept by a Sweeper on a cron schedule.
package store
