package ntp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	for _, ca := range []struct {
		name string
		t    time.Time
		v    uint64
	}{
		{
			"unix epoch",
			time.Unix(0, 0),
			2208988800 << 32,
		},
		{
			"whole second",
			time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
			16788979056430284800,
		},
		{
			"quarter second",
			time.Date(2023, 11, 14, 22, 13, 20, 250000000, time.UTC),
			16788979057504026624,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			v := Encode(ca.t)
			require.Equal(t, ca.v, v)
			require.True(t, ca.t.Equal(Decode(v)))
		})
	}
}

func TestDecodeRounding(t *testing.T) {
	in := time.Date(2024, 2, 29, 12, 0, 0, 123456789, time.UTC)
	out := Decode(Encode(in))

	// a fraction unit is about 233ps.
	diff := out.Sub(in)
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqual(t, diff, time.Nanosecond)
	require.Equal(t, in.Unix(), out.Unix())
}
