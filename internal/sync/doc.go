// Package sync reconciles the authoritative task store against external
// mirrors without a shared transaction coordinator.
//
// Each mirror is an independently-owned, file-per-record store accessed
// through a mirror.Adapter. The engine drives push (local -> mirror) and
// pull (mirror -> local) passes, detects conflicting concurrent edits by
// comparing both sides against a per-record sync watermark, and records
// conflicts in a bounded per-task log.
//
// Cross-store consistency is best-effort: there is no two-phase commit,
// so a crash between writing a mirror record and persisting its mapping
// can leave a duplicate record for the next pass to reconcile. The
// protocol is idempotent and convergent across repeated syncs rather
// than atomic across stores. A full sync with no intervening edits is a
// no-op reporting zero pushed and pulled records.
package sync
