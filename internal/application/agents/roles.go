package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/aescanero/newsroom/internal/desk"
	"github.com/aescanero/newsroom/internal/logging"
	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/protocol"
)

// Role names one agent host identity.
type Role string

const (
	RoleAssignment   Role = "assignment"
	RoleReporter     Role = "reporter"
	RoleFactCheck    Role = "factcheck"
	RoleCopyEdit     Role = "copyedit"
	RolePackaging    Role = "packaging"
	RolePublish      Role = "publish"
	RoleDistribution Role = "distribution"
	RoleModeration   Role = "moderation"
	RoleMonetization Role = "monetization"
	RoleVisuals      Role = "visuals"
)

const maxSocialPost = 280

type binding struct {
	topic   string
	kind    domain.Kind
	handler func(d *desk.Desk) Handler
}

var bindings = map[Role]binding{
	RoleAssignment: {protocol.TopicPitches, domain.KindStoryPitch, func(d *desk.Desk) Handler {
		return forward(protocol.TopicAssignments, d.Assign)
	}},
	RoleReporter: {protocol.TopicAssignments, domain.KindAssignment, func(d *desk.Desk) Handler {
		return forward(protocol.TopicDrafts, d.Report)
	}},
	RoleFactCheck: {protocol.TopicDrafts, domain.KindDraft, func(d *desk.Desk) Handler {
		return forward(protocol.TopicFactCheck, d.FactCheck)
	}},
	RoleCopyEdit: {protocol.TopicFactCheck, domain.KindFactCheckResult, copyEditHandler},
	RolePackaging: {protocol.TopicCopyEdit, domain.KindCopyEditResult, func(d *desk.Desk) Handler {
		return forward(protocol.TopicPackage, func(ctx context.Context, edit domain.CopyEditResult) (domain.PackagingResult, error) {
			return d.Package(ctx, edit, "")
		})
	}},
	RolePublish: {protocol.TopicPackage, domain.KindPackagingResult, publishHandler},
	RoleDistribution: {protocol.TopicPublish, domain.KindPublishRequest, func(d *desk.Desk) Handler {
		return forward(protocol.TopicDistribute, func(ctx context.Context, req domain.PublishRequest) (domain.DistributionPlan, error) {
			return d.Distribute(ctx, req, nil)
		})
	}},
	RoleModeration:   {protocol.TopicDistribute, domain.KindDistributionPlan, moderationHandler},
	RoleMonetization: {protocol.TopicPackage, domain.KindPackagingResult, monetizationHandler},
	RoleVisuals:      {protocol.TopicPitches, domain.KindStoryPitch, visualsHandler},
}

// Roles lists every known role in name order.
func Roles() []Role {
	roles := make([]Role, 0, len(bindings))
	for r := range bindings {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// ParseRole returns the role named s.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := bindings[r]; !ok {
		return "", fmt.Errorf("unknown agent role %q", s)
	}
	return r, nil
}

// Register installs role's handler on h and returns the topics h must
// subscribe to.
func Register(h *Host, role Role, d *desk.Desk) ([]string, error) {
	b, ok := bindings[role]
	if !ok {
		return nil, fmt.Errorf("unknown agent role %q", role)
	}
	if !protocol.Known(b.kind) {
		return nil, fmt.Errorf("agent role %q consumes unregistered kind %s", role, b.kind)
	}
	h.Handle(b.kind, b.handler(d))
	return []string{b.topic}, nil
}

// handle adapts a typed function to a Handler.
func handle[T domain.Payload](fn func(ctx context.Context, in T, out protocol.Publisher) error) Handler {
	return func(ctx context.Context, env protocol.Envelope, out protocol.Publisher) error {
		in, ok := env.Payload.(T)
		if !ok {
			return domain.Wrap(domain.ErrKindMismatch, "agent", "dispatch",
				fmt.Errorf("%s envelope carries %T", env.Type, env.Payload))
		}
		return fn(ctx, in, out)
	}
}

// forward publishes the result of step to topic.
func forward[In, Out domain.Payload](topic string, step func(context.Context, In) (Out, error)) Handler {
	return handle(func(ctx context.Context, in In, out protocol.Publisher) error {
		result, err := step(ctx, in)
		if err != nil {
			return err
		}
		_, err = out.Publish(ctx, topic, result)
		return err
	})
}

// copyEditHandler holds failed fact checks; those stories need an editor's
// approval, which only the orchestrated pipeline can collect.
func copyEditHandler(d *desk.Desk) Handler {
	return handle(func(ctx context.Context, result domain.FactCheckResult, out protocol.Publisher) error {
		if !result.Pass {
			logging.FromContext(ctx, nil).Info("story held for editor approval",
				zap.Strings("flags", result.Flags))
			return nil
		}
		edit, err := d.CopyEdit(ctx, result.Draft)
		if err != nil {
			return err
		}
		_, err = out.Publish(ctx, protocol.TopicCopyEdit, edit)
		return err
	})
}

func publishHandler(d *desk.Desk) Handler {
	return handle(func(ctx context.Context, pkg domain.PackagingResult, out protocol.Publisher) error {
		req, err := d.Prepare(ctx, desk.DraftFromPackage(pkg), pkg)
		if err != nil {
			return err
		}
		scheduled, err := d.Publish(ctx, req, pkg)
		if err != nil {
			return err
		}
		logging.FromContext(ctx, nil).Info("story sent to cms",
			zap.String("cms_id", req.CMSID),
			zap.Bool("scheduled", scheduled))
		_, err = out.Publish(ctx, protocol.TopicPublish, req)
		return err
	})
}

func moderationHandler(*desk.Desk) Handler {
	return handle(func(ctx context.Context, plan domain.DistributionPlan, _ protocol.Publisher) error {
		logger := logging.FromContext(ctx, nil)
		for _, post := range plan.Posts {
			if post.Channel == "social" && len([]rune(post.Text)) > maxSocialPost {
				logger.Warn("social post exceeds length limit",
					zap.Int("length", len([]rune(post.Text))))
			}
		}
		logger.Info("distribution plan reviewed", zap.Strings("channels", plan.Channels))
		return nil
	})
}

func monetizationHandler(*desk.Desk) Handler {
	return handle(func(ctx context.Context, pkg domain.PackagingResult, _ protocol.Publisher) error {
		paragraphs := 0
		for _, block := range strings.Split(pkg.Body, "\n\n") {
			if strings.TrimSpace(block) != "" {
				paragraphs++
			}
		}
		logging.FromContext(ctx, nil).Info("ad slots planned",
			zap.Int("slots", paragraphs/3+1),
			zap.Strings("tags", pkg.Tags))
		return nil
	})
}

func visualsHandler(*desk.Desk) Handler {
	return handle(func(ctx context.Context, pitch domain.StoryPitch, _ protocol.Publisher) error {
		logging.FromContext(ctx, nil).Info("visual request filed",
			zap.String("slug", pitch.Slug),
			zap.String("beat", pitch.Beat))
		return nil
	})
}
