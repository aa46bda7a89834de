// Package signalclient is a Go client for the rendezvous WebSocket protocol.
//
// It correlates request/response control messages (create-room, validate-room,
// validate-password, join-room) over the single connection and dispatches
// server notifications (new-user, user-left) and relayed peer frames to
// caller-provided handlers. At most one request of each kind may be in flight
// at a time.
package signalclient
