package signalclient

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Relay frame types used for WebRTC session negotiation between peers. The
// relay itself treats them as opaque; both sides of a call agree on them.
const (
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "ice-candidate"
)

// SDP is the wire form of a session description inside a relay frame.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate is the wire form of a trickled ICE candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// SendOffer relays a local offer description to the named peer.
func (c *Client) SendOffer(target string, desc webrtc.SessionDescription) error {
	return c.SendToUser(target, TypeOffer, map[string]any{"sdp": SDPFromPion(desc)})
}

// SendAnswer relays a local answer description to the named peer.
func (c *Client) SendAnswer(target string, desc webrtc.SessionDescription) error {
	return c.SendToUser(target, TypeAnswer, map[string]any{"sdp": SDPFromPion(desc)})
}

// SendCandidate relays a trickled ICE candidate to the named peer.
func (c *Client) SendCandidate(target string, init webrtc.ICECandidateInit) error {
	return c.SendToUser(target, TypeCandidate, map[string]any{"candidate": CandidateFromPion(init)})
}

// DecodeSDP extracts the session description from a relayed offer or answer
// frame.
func DecodeSDP(msg RelayMessage) (webrtc.SessionDescription, error) {
	var frame struct {
		SDP SDP `json:"sdp"`
	}
	if err := json.Unmarshal(msg.Raw, &frame); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("signalclient: decode sdp frame: %w", err)
	}
	return frame.SDP.ToPion()
}

// DecodeCandidate extracts the ICE candidate from a relayed candidate frame.
func DecodeCandidate(msg RelayMessage) (webrtc.ICECandidateInit, error) {
	var frame struct {
		Candidate Candidate `json:"candidate"`
	}
	if err := json.Unmarshal(msg.Raw, &frame); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("signalclient: decode candidate frame: %w", err)
	}
	return frame.Candidate.ToPion(), nil
}
