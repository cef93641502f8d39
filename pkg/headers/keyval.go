// Package headers contains the RTSP headers used by the server.
package headers

import (
	"fmt"
	"strings"
)

type keyVal struct {
	key string
	val string
}

// parseKeyVals splits "a=1;b=\"x;y\";c" into key-value pairs.
// keys without value are returned with an empty value.
func parseKeyVals(str string, sep byte) ([]keyVal, error) {
	var ret []keyVal
	orig := str

	for len(str) > 0 {
		str = strings.TrimLeft(str, " ")
		if str == "" {
			break
		}

		i := 0
		for i < len(str) && str[i] != '=' && str[i] != sep {
			i++
		}
		key := strings.TrimSpace(str[:i])
		str = str[i:]

		if key == "" {
			return nil, fmt.Errorf("empty key (%v)", orig)
		}

		var val string

		if len(str) > 0 && str[0] == '=' {
			str = str[1:]

			if len(str) > 0 && str[0] == '"' {
				end := strings.IndexByte(str[1:], '"')
				if end < 0 {
					return nil, fmt.Errorf("quotes not closed (%v)", orig)
				}
				val = str[1 : 1+end]
				str = str[2+end:]
			} else {
				j := strings.IndexByte(str, sep)
				if j < 0 {
					j = len(str)
				}
				val = str[:j]
				str = str[j:]
			}
		}

		ret = append(ret, keyVal{key, val})

		if len(str) > 0 && str[0] == sep {
			str = str[1:]
		}
	}

	return ret, nil
}
