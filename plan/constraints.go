package plan

// BarrierSelector names the write barrier a plan needs.
type BarrierSelector int

const (
	NoBarrier BarrierSelector = iota
)

func (b BarrierSelector) String() string {
	if b == NoBarrier {
		return "none"
	}
	return "unknown"
}

// Constraints is the fixed shape of a plan type. Every plan defines one as a
// package-level value and returns a copy of it.
type Constraints struct {
	CollectsGarbage bool
	MovesObjects    bool
	// GCHeaderBits and GCHeaderWords are the per-object header space the
	// plan needs from the runtime's object model.
	GCHeaderBits        int
	GCHeaderWords       int
	NumSpecializedScans int
	Barrier             BarrierSelector
}

// DefaultConstraints is the starting point plans adjust.
var DefaultConstraints = Constraints{
	CollectsGarbage: true,
	Barrier:         NoBarrier,
}
