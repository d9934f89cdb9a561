package protocol

import "github.com/aescanero/newsroom/pkg/domain"

// Bus topics.
const (
	TopicPitches     = "pitches"
	TopicAssignments = "assignments"
	TopicDrafts      = "drafts"
	TopicFactCheck   = "factcheck"
	TopicCopyEdit    = "copyedit"
	TopicPackage     = "package"
	TopicPublish     = "publish"
	TopicDistribute  = "distribute"
	TopicDeadLetter  = "deadletter"
)

// TopicFor returns the topic a payload of the given kind is published on.
func TopicFor(kind domain.Kind) string {
	switch kind {
	case domain.KindStoryPitch:
		return TopicPitches
	case domain.KindAssignment:
		return TopicAssignments
	case domain.KindDraft:
		return TopicDrafts
	case domain.KindFactCheckResult:
		return TopicFactCheck
	case domain.KindCopyEditResult:
		return TopicCopyEdit
	case domain.KindPackagingResult:
		return TopicPackage
	case domain.KindPublishRequest:
		return TopicPublish
	case domain.KindDistributionPlan:
		return TopicDistribute
	default:
		return ""
	}
}
