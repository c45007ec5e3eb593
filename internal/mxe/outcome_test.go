package mxe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOutcome(t *testing.T) {
	yes := &OracleReport{Outcome: 1}
	no := &OracleReport{Outcome: 0}

	tests := []struct {
		name    string
		oracle  *OracleReport
		poolNo  uint64
		poolYes uint64
		want    uint8
	}{
		{"yes majority", nil, 50, 100, 1},
		{"no majority", nil, 100, 50, 0},
		{"tie goes to no", nil, 75, 75, 0},
		{"empty pools", nil, 0, 0, 0},
		{"oracle overrides majority", no, 0, 100, 0},
		{"oracle yes against majority", yes, 100, 0, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveOutcome(tc.oracle, tc.poolNo, tc.poolYes))
		})
	}
}

func TestOracleDecoder_Decode(t *testing.T) {
	dec := NewOracleDecoder(PlainCipher{}, "m")

	got, err := dec.Decode([]byte(`{"outcome":1,"timestamp":1700000000,"source":"ap"}`))
	require.NoError(t, err)
	assert.Equal(t, OracleReport{Outcome: 1, Timestamp: 1700000000, Source: "ap"}, got)

	bad := []string{
		``,
		`{`,
		`{"outcome":2,"timestamp":1,"source":"x"}`,
		`{"outcome":-1,"timestamp":1,"source":"x"}`,
		`{"outcome":1,"timestamp":1}`,
		`{"outcome":1,"timestamp":1,"source":"x","extra":true}`,
		`{"outcome":1,"timestamp":1,"source":"x"} {}`,
		`{"outcome":"1","timestamp":1,"source":"x"}`,
	}
	for _, payload := range bad {
		_, err := dec.Decode([]byte(payload))
		var oe *OracleDecodeError
		assert.True(t, errors.As(err, &oe), "payload %q", payload)
	}
}
