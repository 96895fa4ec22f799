// Package telemetry mirrors the objects of a remote peer.
//
// A Manager keeps the latest value of every object instance and sends
// local changes according to the object metadata. Waiters and observers
// are woken up when the peer delivers an update. Periodic and throttled
// traffic is driven by the scheduler started with Start.
package telemetry
