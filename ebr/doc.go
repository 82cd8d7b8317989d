// Package ebr implements epoch-based reclamation for concurrent data
// structures.
//
// Reclamation of an unlinked object must wait until no reader can still
// observe it. Readers announce their presence by entering a [Guard]; writers
// hand unlinked objects to the collector with [Guard.Retire] instead of
// dropping them directly. The collector advances a global epoch once every
// active reader has caught up with it, and runs the deferred reclaimers two
// epochs after retirement, when no pre-existing reader can remain.
//
// On top of the collector the package provides [Shared], a reference-counted
// box whose final release is routed through the collector, and
// [AtomicShared], an atomic cell owning one strong reference plus a 2-bit
// tag usable for marking protocols.
//
// The collector is a process-wide singleton, initialized lazily on first
// use. There is no teardown: retirement bags that are never drained are
// reclaimed by the OS at process exit.
package ebr
