package metadata

import "fmt"

type placement struct {
	owner string
	spec  Spec
}

// Sanity accumulates every space's side-metadata layout and rejects any
// layout whose tables collide with one already seen. Global specs may be
// reported by many spaces as long as every report is identical.
type Sanity struct {
	coverage uintptr
	global   map[string]Spec
	seen     []placement
}

// NewSanity checks layouts for tables covering coverage heap bytes.
func NewSanity(coverage uintptr) *Sanity {
	return &Sanity{coverage: coverage, global: make(map[string]Spec)}
}

// Verify adds owner's layout, failing on the first invalid or overlapping spec.
func (s *Sanity) Verify(owner string, ctx *Context) error {
	for _, spec := range ctx.Global {
		if !spec.IsGlobal {
			return fmt.Errorf("%w: %s listed as global in %s but not marked global", ErrInvalidSpec, spec.Name, owner)
		}
		if err := spec.Validate(); err != nil {
			return err
		}
		if prev, ok := s.global[spec.Name]; ok {
			if prev != spec {
				return fmt.Errorf("%w: global %s reported as %s by %s, previously %s", ErrInvalidSpec, spec.Name, spec, owner, prev)
			}
			continue
		}
		if err := s.add(owner, spec); err != nil {
			return err
		}
		s.global[spec.Name] = spec
	}
	for _, spec := range ctx.Local {
		if spec.IsGlobal {
			return fmt.Errorf("%w: %s listed as local in %s but marked global", ErrInvalidSpec, spec.Name, owner)
		}
		if err := spec.Validate(); err != nil {
			return err
		}
		if err := s.add(owner, spec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sanity) add(owner string, spec Spec) error {
	lo := spec.Offset
	hi := lo + spec.ExtentFor(s.coverage)
	for _, p := range s.seen {
		plo := p.spec.Offset
		phi := plo + p.spec.ExtentFor(s.coverage)
		if lo < phi && plo < hi {
			return fmt.Errorf("%w: %s of %s [%d, %d) and %s of %s [%d, %d)",
				ErrOverlap, spec.Name, owner, lo, hi, p.spec.Name, p.owner, plo, phi)
		}
	}
	s.seen = append(s.seen, placement{owner: owner, spec: spec})
	return nil
}
