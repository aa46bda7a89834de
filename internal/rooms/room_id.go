package rooms

import "crypto/rand"

const (
	roomIDLength   = 8
	roomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// newRoomID returns a short random base36 identifier, matching the id shape
// clients already share out-of-band (links, spoken codes).
func newRoomID() (string, error) {
	var buf [roomIDLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = roomIDAlphabet[int(buf[i])%len(roomIDAlphabet)]
	}
	return string(buf[:]), nil
}
