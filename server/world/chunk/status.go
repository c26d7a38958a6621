package chunk

// Status is a stage in the generation and loading pipeline of a chunk. Stages
// are strictly ordered: a chunk at a Status has completed every Status before
// it.
type Status uint8

const (
	StatusEmpty Status = iota
	StatusStructureStarts
	StatusStructureReferences
	StatusBiomes
	StatusNoise
	StatusSurface
	StatusCarvers
	StatusFeatures
	StatusInitializeLight
	StatusLight
	StatusSpawn
	StatusFull
)

// StatusCount is the amount of statuses that exist.
const StatusCount = int(StatusFull) + 1

var statusNames = [StatusCount]string{
	"empty", "structure_starts", "structure_references", "biomes", "noise", "surface",
	"carvers", "features", "initialize_light", "light", "spawn", "full",
}

// Statuses returns all statuses in pipeline order.
func Statuses() []Status {
	s := make([]Status, StatusCount)
	for i := range s {
		s[i] = Status(i)
	}
	return s
}

// Index returns the position of the status in the pipeline.
func (s Status) Index() int {
	return int(s)
}

// Parent returns the status directly before s. The parent of StatusEmpty is
// StatusEmpty.
func (s Status) Parent() Status {
	if s == StatusEmpty {
		return StatusEmpty
	}
	return s - 1
}

// Next returns the status after s and false if s is StatusFull.
func (s Status) Next() (Status, bool) {
	if s == StatusFull {
		return s, false
	}
	return s + 1, true
}

// IsAfter checks if s comes strictly after o in the pipeline.
func (s Status) IsAfter(o Status) bool {
	return s > o
}

// IsOrAfter checks if s is o or comes after it.
func (s Status) IsOrAfter(o Status) bool {
	return s >= o
}

// IsBefore checks if s comes strictly before o.
func (s Status) IsBefore(o Status) bool {
	return s < o
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if int(s) >= StatusCount {
		return "unknown"
	}
	return statusNames[s]
}

// MaxStatus returns the later of two statuses.
func MaxStatus(a, b Status) Status {
	return max(a, b)
}

// FullStatus is the gameplay-visible state of a chunk, derived from its ticket
// level.
type FullStatus uint8

const (
	// FullStatusInaccessible means the chunk may exist in memory at some
	// generation stage but cannot be used by gameplay.
	FullStatusInaccessible FullStatus = iota
	// FullStatusFull means the chunk is fully loaded.
	FullStatusFull
	// FullStatusBlockTicking means blocks in the chunk are ticked.
	FullStatusBlockTicking
	// FullStatusEntityTicking means entities in the chunk are ticked too.
	FullStatusEntityTicking
)

// IsOrAfter checks if s is o or a more active state than o.
func (s FullStatus) IsOrAfter(o FullStatus) bool {
	return s >= o
}

// String implements fmt.Stringer.
func (s FullStatus) String() string {
	switch s {
	case FullStatusInaccessible:
		return "inaccessible"
	case FullStatusFull:
		return "full"
	case FullStatusBlockTicking:
		return "block_ticking"
	case FullStatusEntityTicking:
		return "entity_ticking"
	}
	return "unknown"
}
