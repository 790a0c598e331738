package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSol(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "1", want: LamportsPerSol},
		{in: "0.01", want: 10_000_000},
		{in: "2.5", want: 2_500_000_000},
		{in: ".000000001", want: 1},
		{in: "1.0000000001", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "18446744074", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseSol(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatSol(t *testing.T) {
	assert.Equal(t, "0", FormatSol(0))
	assert.Equal(t, "1", FormatSol(LamportsPerSol))
	assert.Equal(t, "0.01", FormatSol(10_000_000))
	assert.Equal(t, "7.9", FormatSol(7_900_000_000))
	assert.InDelta(t, 0.5, LamportsToSol(500_000_000), 1e-12)
}
