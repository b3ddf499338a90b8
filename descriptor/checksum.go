package descriptor

import (
	"fmt"
	"strings"
)

// The descriptor checksum scheme from BIP380. It is an error correcting code
// over the descriptor alphabet, computed over the whole descriptor body
// including the element chain prefix.
const (
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	checksumInputCharset = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXY" +
		"Z&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
)

var checksumGenerator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

func polymodStep(c uint64, val uint64) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val
	for i, g := range checksumGenerator {
		if c0>>uint(i)&1 != 0 {
			c ^= g
		}
	}
	return c
}

// checksum computes the eight character checksum of the passed descriptor
// body. The body must not contain a checksum separator.
func checksum(body string) (string, error) {
	c := uint64(1)
	cls := uint64(0)
	clsCount := 0
	for _, ch := range body {
		pos := strings.IndexRune(checksumInputCharset, ch)
		if pos < 0 {
			return "", fmt.Errorf(
				"%w: invalid character %q", ErrBadDescriptor, ch,
			)
		}
		c = polymodStep(c, uint64(pos)&31)
		cls = cls*3 + uint64(pos)>>5
		clsCount++
		if clsCount == 3 {
			c = polymodStep(c, cls)
			cls = 0
			clsCount = 0
		}
	}
	if clsCount > 0 {
		c = polymodStep(c, cls)
	}
	for i := 0; i < 8; i++ {
		c = polymodStep(c, 0)
	}
	c ^= 1

	var sum [8]byte
	for i := 0; i < 8; i++ {
		sum[i] = checksumCharset[c>>uint(5*(7-i))&31]
	}
	return string(sum[:]), nil
}

// splitChecksum verifies and strips an optional trailing checksum, returning
// the descriptor body. A descriptor may carry at most one checksum separator.
func splitChecksum(s string) (string, error) {
	parts := strings.Split(s, "#")
	switch len(parts) {
	case 1:
		return s, nil
	case 2:
	default:
		return "", fmt.Errorf(
			"%w: multiple checksum separators", ErrBadDescriptor,
		)
	}

	body, sum := parts[0], parts[1]
	if len(sum) != 8 {
		return "", fmt.Errorf(
			"%w: expected 8 characters, got %d", ErrBadChecksum, len(sum),
		)
	}
	expected, err := checksum(body)
	if err != nil {
		return "", err
	}
	if sum != expected {
		return "", fmt.Errorf(
			"%w: expected %s, got %s", ErrBadChecksum, expected, sum,
		)
	}
	return body, nil
}

// appendChecksum returns the passed body with its checksum suffix attached.
// Bodies that fail to checksum (foreign characters) are returned unchanged.
func appendChecksum(body string) string {
	sum, err := checksum(body)
	if err != nil {
		return body
	}
	return body + "#" + sum
}
