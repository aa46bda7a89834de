// Package signaling implements the WebSocket rendezvous surface browser
// peers use to find each other: room creation/validation/join control
// messages, and targeted relay of opaque peer-negotiation payloads (SDP
// offers/answers, ICE candidates) between room members.
package signaling
