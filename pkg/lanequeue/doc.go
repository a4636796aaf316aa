// Package lanequeue serializes work per key.
//
// Every key owns a lane: a FIFO of tasks executed one at a time. Lanes for
// different keys run concurrently and share nothing. A lane exists only while
// it has queued or running work; once drained it is removed, so an unbounded
// stream of distinct keys (one per conversation) does not grow memory.
//
// Usage:
//
//	q := lanequeue.New(lanequeue.Options{})
//	defer q.Close(ctx)
//
//	err := q.Do(ctx, sessionID, func(ctx context.Context) error {
//		// load, mutate, save
//		return nil
//	})
//
// A caller whose context ends while its task is still queued gets ctx.Err()
// and the task never runs. Once a task has started, Do waits for it.
package lanequeue
