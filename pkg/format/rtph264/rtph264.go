// Package rtph264 contains a RTP/H264 encoder and decoder.
package rtph264

import (
	"crypto/rand"
)

const (
	rtpVersion = 2

	// 1500 (UDP MTU) - 20 (IP header) - 8 (UDP header) - 12 (RTP header) - 10 (room for extensions)
	defaultPayloadMaxSize = 1450
)

func randUint32() (uint32, error) {
	var b [4]byte
	_, err := rand.Read(b[:])
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}
