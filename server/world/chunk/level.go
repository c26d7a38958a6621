package chunk

const (
	// EntityTickingLevel is the highest level at which entities in a chunk are
	// ticked.
	EntityTickingLevel = 31
	// BlockTickingLevel is the highest level at which blocks in a chunk are
	// ticked.
	BlockTickingLevel = 32
	// FullLevel is the highest level at which a chunk is fully loaded.
	FullLevel = 33
	// MaxLevel is the highest level at which a chunk is kept in memory. Levels
	// between FullLevel and MaxLevel hold chunks at the generation status the
	// full chunks around them need.
	MaxLevel = FullLevel + 11
	// AbsentLevel is the level of a chunk that nothing demands.
	AbsentLevel = MaxLevel + 1
)

// fullRadius is the radius around a full chunk in which neighbours must be
// partially generated.
var fullRadius = GenerationPyramid.StepTo(StatusFull).Accumulated().Radius()

// IsLoaded checks if a chunk at the level passed is kept in memory.
func IsLoaded(level int) bool {
	return level <= MaxLevel
}

// GenerationStatus returns the highest status a chunk at the level passed may
// be generated to. False is returned if the level is not loaded.
func GenerationStatus(level int) (Status, bool) {
	return StatusAround(level - FullLevel)
}

// StatusAround returns the status needed at a distance from a full chunk.
// Distances of zero or less need StatusFull. False is returned if the distance
// lies beyond the generation radius.
func StatusAround(distance int) (Status, bool) {
	if distance > fullRadius {
		return StatusEmpty, false
	}
	if distance <= 0 {
		return StatusFull, true
	}
	return GenerationPyramid.StepTo(StatusFull).Accumulated().Get(distance), true
}

// FullStatusAt returns the FullStatus of a chunk at the level passed.
func FullStatusAt(level int) FullStatus {
	switch {
	case level <= EntityTickingLevel:
		return FullStatusEntityTicking
	case level <= BlockTickingLevel:
		return FullStatusBlockTicking
	case level <= FullLevel:
		return FullStatusFull
	}
	return FullStatusInaccessible
}

// LevelFor returns the highest level at which a chunk has FullStatus s.
func LevelFor(s FullStatus) int {
	switch s {
	case FullStatusEntityTicking:
		return EntityTickingLevel
	case FullStatusBlockTicking:
		return BlockTickingLevel
	case FullStatusFull:
		return FullLevel
	}
	return MaxLevel
}

// LevelForStatus returns the highest level at which a chunk may be generated
// to status s.
func LevelForStatus(s Status) int {
	return FullLevel + GenerationPyramid.StepTo(StatusFull).AccumulatedRadiusOf(s)
}

// IsEntityTicking checks if entities in a chunk at the level passed are ticked.
func IsEntityTicking(level int) bool {
	return level <= EntityTickingLevel
}

// IsBlockTicking checks if blocks in a chunk at the level passed are ticked.
func IsBlockTicking(level int) bool {
	return level <= BlockTickingLevel
}
