package base

import (
	"bufio"
	"fmt"
)

// readToken reads until delim and returns what precedes it.
// It fails when delim is not found within max bytes.
func readToken(br *bufio.Reader, delim byte, max int) (string, error) {
	buf := make([]byte, 0, 32)

	for len(buf) < max {
		byt, err := br.ReadByte()
		if err != nil {
			return "", err
		}

		if byt == delim {
			return string(buf), nil
		}

		buf = append(buf, byt)
	}

	return "", fmt.Errorf("buffer length exceeds %d", max)
}

// readLF consumes the '\n' that must follow a '\r'.
func readLF(br *bufio.Reader) error {
	byt, err := br.ReadByte()
	if err != nil {
		return err
	}

	if byt != '\n' {
		return fmt.Errorf("expected '\\n', got '%c'", byt)
	}

	return nil
}

// readLineRest reads the rest of a line terminated by CRLF.
func readLineRest(br *bufio.Reader, max int) (string, error) {
	v, err := readToken(br, '\r', max)
	if err != nil {
		return "", err
	}

	return v, readLF(br)
}
