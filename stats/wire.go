package stats

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode so equal records encode identically.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("stats: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalPause serializes a PauseRecord to CBOR bytes.
func MarshalPause(r *PauseRecord) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalPause deserializes a PauseRecord from CBOR bytes.
func UnmarshalPause(data []byte) (*PauseRecord, error) {
	var r PauseRecord
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("stats: unmarshal pause: %w", err)
	}
	return &r, nil
}

// MarshalReport serializes a HeapReport to CBOR bytes.
func MarshalReport(r *HeapReport) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalReport deserializes a HeapReport from CBOR bytes.
func UnmarshalReport(data []byte) (*HeapReport, error) {
	var r HeapReport
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("stats: unmarshal report: %w", err)
	}
	return &r, nil
}
