// Package stats records what pauses do and keeps an optional pause history
// in SQLite.
package stats

import "time"

// PauseRecord describes one completed pause.
type PauseRecord struct {
	Seq             uint64        `cbor:"1,keyasint"`
	Plan            string        `cbor:"2,keyasint"`
	UserTriggered   bool          `cbor:"3,keyasint"`
	Emergency       bool          `cbor:"4,keyasint"`
	Start           time.Time     `cbor:"5,keyasint"`
	Duration        time.Duration `cbor:"6,keyasint"`
	UsedPagesBefore int           `cbor:"7,keyasint"`
	UsedPagesAfter  int           `cbor:"8,keyasint"`
	Packets         int           `cbor:"9,keyasint"`
	SoftCleared     int           `cbor:"10,keyasint"`
	WeakCleared     int           `cbor:"11,keyasint"`
	PhantomCleared  int           `cbor:"12,keyasint"`
}

// Reclaimed returns the pages the pause gave back.
func (r *PauseRecord) Reclaimed() int {
	return max(r.UsedPagesBefore-r.UsedPagesAfter, 0)
}

// SpaceReport is one space's share of a HeapReport.
type SpaceReport struct {
	Name          string `cbor:"1,keyasint"`
	ReservedPages int    `cbor:"2,keyasint"`
}

// HeapReport is a snapshot of heap occupancy.
type HeapReport struct {
	Plan                    string        `cbor:"1,keyasint"`
	HeapPages               int           `cbor:"2,keyasint"`
	UsedPages               int           `cbor:"3,keyasint"`
	CollectionReservedPages int           `cbor:"4,keyasint"`
	Spaces                  []SpaceReport `cbor:"5,keyasint"`
	Pauses                  uint64        `cbor:"6,keyasint"`
	References              int           `cbor:"7,keyasint"`
	Mutators                int           `cbor:"8,keyasint"`
}
