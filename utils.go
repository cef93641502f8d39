package rtspserver

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"github.com/netlab/rtspserver/pkg/base"
)

func randUint32() (uint32, error) {
	var b [4]byte
	_, err := rand.Read(b[:])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func emptyTimer() *time.Timer {
	t := time.NewTimer(0)
	<-t.C
	return t
}

// do not listen on IPv6 when address is 0.0.0.0.
func restrictNetwork(network string, address string) (string, string) {
	host, _, err := net.SplitHostPort(address)
	if err == nil {
		if host == "0.0.0.0" {
			return network + "4", address
		}
	}

	return network, address
}

func isPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// statusResponse returns a response without headers and body, and the error that caused it.
func statusResponse(code base.StatusCode, err error) (*base.Response, error) {
	return &base.Response{StatusCode: code}, err
}
