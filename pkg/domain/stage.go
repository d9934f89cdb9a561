package domain

import "github.com/google/uuid"

// StoryID identifies one story for its whole lifetime.
type StoryID string

// NewStoryID returns a fresh random story identifier.
func NewStoryID() StoryID {
	return StoryID(uuid.NewString())
}

func (id StoryID) String() string {
	return string(id)
}

// Stage is a story's position in the production lifecycle.
type Stage string

const (
	StagePitched          Stage = "Pitched"
	StageAssigned         Stage = "Assigned"
	StageReporting        Stage = "Reporting"
	StageDrafting         Stage = "Drafting"
	StageFactChecking     Stage = "FactChecking"
	StageAwaitingApproval Stage = "AwaitingApproval"
	StageCopyEdit         Stage = "CopyEdit"
	StagePackaging        Stage = "Packaging"
	StageReadyToPublish   Stage = "ReadyToPublish"
	StageScheduled        Stage = "Scheduled"
	StagePublished        Stage = "Published"
	StageDistributed      Stage = "Distributed"
	StageArchived         Stage = "Archived"
	StageRework           Stage = "Rework"
)

// CanonicalOrder lists the mandatory and optional stages in lifecycle order.
// AwaitingApproval, Scheduled and Rework are branches, not mandatory steps.
var CanonicalOrder = []Stage{
	StagePitched,
	StageAssigned,
	StageReporting,
	StageDrafting,
	StageFactChecking,
	StageAwaitingApproval,
	StageCopyEdit,
	StagePackaging,
	StageReadyToPublish,
	StageScheduled,
	StagePublished,
	StageDistributed,
	StageArchived,
}

var transitions = map[Stage][]Stage{
	StagePitched:          {StageAssigned},
	StageAssigned:         {StageReporting},
	StageReporting:        {StageDrafting},
	StageDrafting:         {StageFactChecking},
	StageFactChecking:     {StageCopyEdit, StageAwaitingApproval},
	StageAwaitingApproval: {StageCopyEdit},
	StageCopyEdit:         {StagePackaging},
	StagePackaging:        {StageReadyToPublish},
	StageReadyToPublish:   {StageScheduled, StagePublished},
	StageScheduled:        {StagePublished},
	StagePublished:        {StageDistributed},
	StageDistributed:      {StageArchived},
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	if s == StageRework {
		return true
	}
	for _, c := range CanonicalOrder {
		if c == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Stage) Terminal() bool {
	return s == StageArchived || s == StageRework
}

// CanTransition reports whether moving from one stage to another follows the
// lifecycle: the canonical order, the approval branch, or a Rework fallback.
func CanTransition(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageRework {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsCanonicalPath reports whether stages is a valid walk through the
// lifecycle starting at Pitched.
func IsCanonicalPath(stages []Stage) bool {
	if len(stages) == 0 {
		return true
	}
	if stages[0] != StagePitched {
		return false
	}
	for i := 1; i < len(stages); i++ {
		if !CanTransition(stages[i-1], stages[i]) {
			return false
		}
	}
	return true
}
