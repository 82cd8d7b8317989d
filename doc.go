// Package ccx provides concurrent containers built on epoch-based
// reclamation.
//
// The core pieces, bottom up:
//
//   - ccx/ebr: the reclamation collector, read-side guards, and
//     reference-counted tagged atomic pointers.
//   - The lock-free singly linked list protocol ([PushBack], [Mark],
//     [NextPtr], [DeleteSelf]) over ebr links.
//   - [HashMap]: a concurrent hash table with lock-free reads, per-cell
//     writer locks, overflow lists, and non-blocking incremental resizing.
//
// Blocking operations have context-aware counterparts (InsertCtx,
// UpdateCtx, UpsertCtx, RemoveCtx) that suspend cooperatively on cell-lock
// contention and honor cancellation at those suspension points.
package ccx
