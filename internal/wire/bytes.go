package wire

import (
	"errors"
	"strconv"
)

// Bytes crosses the boundary as a plain numeric array, [104,105], never as
// base64. A nil value encodes as null.
type Bytes []byte

var errBadBytes = errors.New("wire: bytes must be a json array of integers 0-255")

func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	i := skipSpace(data, 0)
	if i+4 <= len(data) && string(data[i:i+4]) == "null" {
		*b = nil
		return nil
	}
	if i >= len(data) || data[i] != '[' {
		return errBadBytes
	}
	i++
	out := make([]byte, 0, len(data)/3)
	expectValue := true
	for {
		i = skipSpace(data, i)
		if i >= len(data) {
			return errBadBytes
		}
		c := data[i]
		if c == ']' {
			if expectValue && len(out) > 0 {
				return errBadBytes
			}
			break
		}
		if !expectValue {
			if c != ',' {
				return errBadBytes
			}
			expectValue = true
			i++
			continue
		}
		n, j := 0, i
		for j < len(data) && data[j] >= '0' && data[j] <= '9' {
			n = n*10 + int(data[j]-'0')
			if n > 255 {
				return errBadBytes
			}
			j++
		}
		if j == i {
			return errBadBytes
		}
		out = append(out, byte(n))
		expectValue = false
		i = j
	}
	*b = out
	return nil
}

func skipSpace(data []byte, i int) int {
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}
