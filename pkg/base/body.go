package base

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

const (
	bodyMaxLength = 128 * 1024
)

// readBody reads the body announced by the Content-Length header, if any.
func readBody(h Header, br *bufio.Reader) ([]byte, error) {
	cls, ok := h["Content-Length"]
	if !ok || len(cls) != 1 {
		return nil, nil
	}

	cl, err := strconv.ParseUint(cls[0], 10, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid Content-Length")
	}

	if cl > bodyMaxLength {
		return nil, fmt.Errorf("Content-Length exceeds %d (it's %d)", bodyMaxLength, cl)
	}

	if cl == 0 {
		return nil, nil
	}

	byts := make([]byte, cl)
	_, err = io.ReadFull(br, byts)
	if err != nil {
		return nil, err
	}

	return byts, nil
}
