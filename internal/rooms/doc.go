// Package rooms owns the in-memory rendezvous state: which rooms exist,
// which connections are members of them, and under which user identity.
//
// The store is the single synchronization point for room state: every
// read-modify-write runs under one mutex, so concurrent joins, relays and
// disconnects observe consistent membership. Nothing is persisted: the store
// is created at process start and discarded at shutdown.
package rooms
