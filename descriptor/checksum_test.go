package descriptor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	key := "0200000000000000000000000000000000000000000000000000000000000000" +
		"02"
	testCases := []struct {
		body string
		sum  string
	}{
		{"elpk(" + key + ")", "vlpqwfjv"},
		{"elpkh(" + key + ")", "jzq8e832"},
		{"elwpkh(" + key + ")", "vxhqdpz9"},
		{"elsh(wpkh(" + key + "))", "h9ajn2ft"},
		{"eltr(" + key + ")", "e874qu8z"},
		{"elsh(1)", "k4aqrx5p"},
		{"elwsh(1)", "s78w5gmj"},
		{"elsh(wsh(1))", "d05z4wjl"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.body, func(t *testing.T) {
			sum, err := checksum(tc.body)
			require.NoError(t, err)
			require.Equal(t, tc.sum, sum)

			// A body with its checksum attached verifies and strips.
			body, err := splitChecksum(tc.body + "#" + tc.sum)
			require.NoError(t, err)
			require.Equal(t, tc.body, body)

			require.Equal(t, tc.body+"#"+tc.sum, appendChecksum(tc.body))

			// A corrupted checksum is rejected.
			_, err = splitChecksum(tc.body + "#qqqqqqqq")
			require.ErrorIs(t, err, ErrBadChecksum)
		})
	}
}

func TestChecksumErrors(t *testing.T) {
	// Characters outside the descriptor alphabet cannot be checksummed.
	_, err := checksum("elpkh(é)")
	require.ErrorIs(t, err, ErrBadDescriptor)

	// At most one checksum separator.
	_, err = splitChecksum("elwsh(1)#s78w5gmj#s78w5gmj")
	require.ErrorIs(t, err, ErrBadDescriptor)

	// The checksum is exactly eight characters.
	_, err = splitChecksum("elwsh(1)#s78w")
	require.ErrorIs(t, err, ErrBadChecksum)

	// Bodies without a separator pass through unchanged.
	body, err := splitChecksum("elwsh(1)")
	require.NoError(t, err)
	require.Equal(t, "elwsh(1)", body)
}
