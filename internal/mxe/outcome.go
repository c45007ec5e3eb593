package mxe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// OracleReport is an externally supplied resolution.
type OracleReport struct {
	Outcome   uint8  `json:"outcome"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
}

// OracleDecodeError reports a malformed oracle payload. It is fatal to the
// resolution attempt.
type OracleDecodeError struct {
	Err error
}

func (e *OracleDecodeError) Error() string { return "mxe: decode oracle report: " + e.Err.Error() }

func (e *OracleDecodeError) Unwrap() error { return e.Err }

// OracleDecoder opens and strictly parses oracle payloads for one market.
type OracleDecoder struct {
	cipher   Cipher
	marketID string
}

// NewOracleDecoder returns a decoder bound to marketID.
func NewOracleDecoder(c Cipher, marketID string) *OracleDecoder {
	return &OracleDecoder{cipher: c, marketID: marketID}
}

// wireReport uses pointers so missing fields can be told apart from zeros.
type wireReport struct {
	Outcome   *uint8  `json:"outcome"`
	Timestamp *int64  `json:"timestamp"`
	Source    *string `json:"source"`
}

// Decode opens payload and parses it as
// {"outcome":0|1,"timestamp":int,"source":string}. Unknown or missing
// fields, trailing data and out-of-range outcomes are rejected.
func (d *OracleDecoder) Decode(payload []byte) (OracleReport, error) {
	pt, err := d.cipher.Open(d.marketID, payload)
	if err != nil {
		return OracleReport{}, &OracleDecodeError{Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(pt))
	dec.DisallowUnknownFields()
	var w wireReport
	if err := dec.Decode(&w); err != nil {
		return OracleReport{}, &OracleDecodeError{Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return OracleReport{}, &OracleDecodeError{Err: errors.New("trailing data")}
	}
	if w.Outcome == nil || w.Timestamp == nil || w.Source == nil {
		return OracleReport{}, &OracleDecodeError{Err: errors.New("missing field")}
	}
	if *w.Outcome > domain.ChoiceYes {
		return OracleReport{}, &OracleDecodeError{Err: fmt.Errorf("outcome %d out of range", *w.Outcome)}
	}
	return OracleReport{Outcome: *w.Outcome, Timestamp: *w.Timestamp, Source: *w.Source}, nil
}

// ResolveOutcome returns the winning choice. An oracle report is
// authoritative; without one the larger pool wins and a tie goes to No.
func ResolveOutcome(oracle *OracleReport, poolNo, poolYes uint64) uint8 {
	if oracle != nil {
		return oracle.Outcome
	}
	if poolYes > poolNo {
		return domain.ChoiceYes
	}
	return domain.ChoiceNo
}
