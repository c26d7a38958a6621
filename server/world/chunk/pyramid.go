package chunk

import "fmt"

// StepKind describes what applying a Step does to a chunk.
type StepKind uint8

const (
	// StepLoad reads the chunk from storage, or creates it empty.
	StepLoad StepKind = iota
	// StepGenerate runs the world generator for the target status if the chunk
	// was not persisted at that status already.
	StepGenerate
	// StepLight runs the lighting engine.
	StepLight
	// StepFull promotes the chunk to a fully loaded chunk on the main context.
	StepFull
)

func kindOf(s Status) StepKind {
	switch s {
	case StatusEmpty:
		return StepLoad
	case StatusInitializeLight, StatusLight:
		return StepLight
	case StatusFull:
		return StepFull
	}
	return StepGenerate
}

// Dependencies holds, per chessboard distance from a centre chunk, the status
// that chunks at that distance must have reached.
type Dependencies struct {
	byRadius []Status
	radiusOf []int
}

func newDependencies(byRadius []Status) Dependencies {
	d := Dependencies{byRadius: byRadius}
	if len(byRadius) == 0 {
		return d
	}
	d.radiusOf = make([]int, byRadius[0].Index()+1)
	for r, s := range byRadius {
		for i := 0; i <= s.Index(); i++ {
			d.radiusOf[i] = r
		}
	}
	return d
}

// Get returns the status required at the distance passed. Get panics if the
// distance is beyond Radius.
func (d Dependencies) Get(distance int) Status {
	return d.byRadius[distance]
}

// Size returns the amount of distances that have a requirement.
func (d Dependencies) Size() int {
	return len(d.byRadius)
}

// Radius returns the largest distance that has a requirement.
func (d Dependencies) Radius() int {
	return len(d.byRadius) - 1
}

// RadiusOf returns the largest distance at which status s or a later status is
// required.
func (d Dependencies) RadiusOf(s Status) int {
	if s.Index() >= len(d.radiusOf) {
		panic(fmt.Sprintf("requesting radius of %v, but the highest dependency is %v", s, d.byRadius[0]))
	}
	return d.radiusOf[s.Index()]
}

// Step is the transition of a chunk to a target status, together with the
// statuses its neighbours must have reached first.
type Step struct {
	target      Status
	kind        StepKind
	direct      Dependencies
	accumulated Dependencies
	writeRadius int
}

// Target returns the status a chunk has after applying the step.
func (s *Step) Target() Status {
	return s.target
}

// Kind returns what applying the step does.
func (s *Step) Kind() StepKind {
	return s.kind
}

// Direct returns the dependencies of this step alone.
func (s *Step) Direct() Dependencies {
	return s.direct
}

// Accumulated returns the dependencies of this step and all steps before it.
func (s *Step) Accumulated() Dependencies {
	return s.accumulated
}

// WriteRadius returns the radius of neighbouring chunks the step may modify.
func (s *Step) WriteRadius() int {
	return s.writeRadius
}

// AccumulatedRadiusOf returns the radius around the centre chunk that must
// reach status before the step can be applied.
func (s *Step) AccumulatedRadiusOf(status Status) int {
	if status == s.target {
		return 0
	}
	return s.accumulated.RadiusOf(status)
}

// Pyramid holds a Step for every status.
type Pyramid struct {
	name  string
	steps [StatusCount]*Step
}

// StepTo returns the step that results in status s.
func (p *Pyramid) StepTo(s Status) *Step {
	return p.steps[s]
}

// String implements fmt.Stringer.
func (p *Pyramid) String() string {
	return p.name
}

// pyramidBuilder builds the steps of a Pyramid in status order, accumulating
// the dependencies of each step onto those of its parent.
type pyramidBuilder struct {
	p    *Pyramid
	last *Step
}

type stepBuilder struct {
	target      Status
	direct      []Status
	writeRadius int
}

// require makes the step depend on all chunks within radius having reached s.
func (b *stepBuilder) require(s Status, radius int) *stepBuilder {
	if !s.IsBefore(b.target) {
		panic(fmt.Sprintf("status %v can not depend on %v", b.target, s))
	}
	for len(b.direct) <= radius {
		b.direct = append(b.direct, s)
	}
	for i := 0; i <= radius; i++ {
		b.direct[i] = MaxStatus(b.direct[i], s)
	}
	return b
}

func (b *stepBuilder) writes(radius int) *stepBuilder {
	b.writeRadius = radius
	return b
}

func (pb *pyramidBuilder) step(s Status, f func(b *stepBuilder)) *pyramidBuilder {
	b := &stepBuilder{target: s, direct: []Status{s.Parent()}}
	if f != nil {
		f(b)
	}
	step := &Step{target: s, kind: kindOf(s), writeRadius: b.writeRadius, direct: newDependencies(b.direct)}
	step.accumulated = accumulate(b.direct, pb.last)
	pb.p.steps[s] = step
	pb.last = step
	return pb
}

// accumulate merges the direct dependencies of a step with those of its parent
// step, shifted outward by the radius at which the parent status is needed.
func accumulate(direct []Status, parent *Step) Dependencies {
	if parent == nil {
		return newDependencies(direct)
	}
	shift := 0
	for i := len(direct) - 1; i >= 0; i-- {
		if direct[i].IsOrAfter(parent.target) {
			shift = i
			break
		}
	}
	inherited := parent.accumulated
	out := make([]Status, max(shift+inherited.Size(), len(direct)))
	for i := range out {
		j := i - shift
		switch {
		case j < 0 || j >= inherited.Size():
			out[i] = direct[i]
		case i >= len(direct):
			out[i] = inherited.Get(j)
		default:
			out[i] = MaxStatus(direct[i], inherited.Get(j))
		}
	}
	return newDependencies(out)
}

// GenerationPyramid is used for chunks that must be generated. Structure
// starts are needed in a wide radius and most later stages need their direct
// neighbours at an earlier stage.
var GenerationPyramid = func() *Pyramid {
	pb := &pyramidBuilder{p: &Pyramid{name: "generation"}}
	pb.step(StatusEmpty, nil).
		step(StatusStructureStarts, nil).
		step(StatusStructureReferences, func(b *stepBuilder) { b.require(StatusStructureStarts, 8) }).
		step(StatusBiomes, func(b *stepBuilder) { b.require(StatusStructureStarts, 8) }).
		step(StatusNoise, func(b *stepBuilder) {
			b.require(StatusStructureStarts, 8).require(StatusBiomes, 1).writes(0)
		}).
		step(StatusSurface, func(b *stepBuilder) {
			b.require(StatusStructureStarts, 8).require(StatusBiomes, 1).writes(0)
		}).
		step(StatusCarvers, func(b *stepBuilder) { b.require(StatusStructureStarts, 8).writes(0) }).
		step(StatusFeatures, func(b *stepBuilder) {
			b.require(StatusStructureStarts, 8).require(StatusCarvers, 1).writes(1)
		}).
		step(StatusInitializeLight, nil).
		step(StatusLight, func(b *stepBuilder) { b.require(StatusInitializeLight, 1) }).
		step(StatusSpawn, func(b *stepBuilder) { b.require(StatusBiomes, 1) }).
		step(StatusFull, nil)
	return pb.p
}()

// LoadingPyramid is used for chunks that were persisted at or beyond the
// status requested. Only lighting needs neighbours.
var LoadingPyramid = func() *Pyramid {
	pb := &pyramidBuilder{p: &Pyramid{name: "loading"}}
	for _, s := range Statuses() {
		if s == StatusLight {
			pb.step(s, func(b *stepBuilder) { b.require(StatusInitializeLight, 1) })
			continue
		}
		pb.step(s, nil)
	}
	return pb.p
}()
