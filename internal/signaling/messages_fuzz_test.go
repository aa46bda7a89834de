package signaling

import "testing"

func FuzzParseControlMessage(f *testing.F) {
	f.Add([]byte(`{"type":"create-room","password":"secret"}`))
	f.Add([]byte(`{"type":"join-room","roomId":"abc123","userId":"alice"}`))
	f.Add([]byte(`{"type":"validate-room","roomId":"abc123"}`))
	f.Add([]byte(`{"type":"offer","target":"bob"}`))
	f.Add([]byte(`{`))
	f.Add([]byte(``))
	f.Add([]byte(`null`))
	f.Add([]byte(`[1,2,3]`))

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := ParseControlMessage(data)
		if err != nil {
			return
		}
		if !msg.Type.IsControl() {
			t.Fatalf("accepted non-control type %q", msg.Type)
		}
		if msg.Type == MessageTypeJoinRoom && (msg.RoomID == "" || msg.UserID == "") {
			t.Fatalf("accepted join-room without required fields: %+v", msg)
		}
	})
}

func FuzzStampRelayFrom(f *testing.F) {
	f.Add([]byte(`{"type":"offer","target":"bob","data":{}}`), "alice")
	f.Add([]byte(`{}`), "")
	f.Add([]byte(`{"from":123}`), "x")

	f.Fuzz(func(t *testing.T, data []byte, from string) {
		out, err := stampRelayFrom(data, from)
		if err != nil {
			return
		}
		if len(out) == 0 {
			t.Fatalf("stamped output is empty")
		}
	})
}
