package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the execution state of an orchestration instance, separate from
// the story's stage.
type Status string

const (
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRework    Status = "rework"
)

// Active reports whether the instance still has work to resume.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusWaiting
}

// ActivityRecord is one completed activity and its result.
type ActivityRecord struct {
	Activity    string          `json:"activity"`
	Stage       Stage           `json:"stage"`
	Kind        Kind            `json:"kind,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}

// Transition is one stage change.
type Transition struct {
	From   Stage     `json:"from"`
	To     Stage     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Wait describes what a suspended instance is blocked on.
type Wait struct {
	Signal   string     `json:"signal,omitempty"`
	Deadline *time.Time `json:"deadline,omitempty"`
	Since    time.Time  `json:"since"`
}

// Signal is an external event delivered to an instance.
type Signal struct {
	Name       string    `json:"name"`
	Approval   Approval  `json:"approval"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Lease records which process currently executes an instance.
type Lease struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Instance is the durable state of one story's orchestration.
type Instance struct {
	StoryID       StoryID          `json:"storyId"`
	CorrelationID string           `json:"correlationId"`
	Stage         Stage            `json:"stage"`
	Status        Status           `json:"status"`
	Pitch         StoryPitch       `json:"pitch"`
	Log           []ActivityRecord `json:"log"`
	Transitions   []Transition     `json:"transitions"`
	Wait          *Wait            `json:"wait,omitempty"`
	Inbox         []Signal         `json:"inbox,omitempty"`
	Lease         *Lease           `json:"lease,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Version       int64            `json:"version"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	ArchivedAt    *time.Time       `json:"archivedAt,omitempty"`
}

// NewInstance creates the Pitched instance for an accepted pitch.
func NewInstance(pitch StoryPitch, correlationID string, now time.Time) *Instance {
	return &Instance{
		StoryID:       pitch.StoryID,
		CorrelationID: correlationID,
		Stage:         StagePitched,
		Status:        StatusRunning,
		Pitch:         pitch,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy.
func (i *Instance) Clone() *Instance {
	data, err := json.Marshal(i)
	if err != nil {
		panic(fmt.Sprintf("instance %s is not serializable: %v", i.StoryID, err))
	}
	var out Instance
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("instance %s is not deserializable: %v", i.StoryID, err))
	}
	return &out
}

// Record appends an activity result to the log.
func (i *Instance) Record(activity string, stage Stage, result Payload, now time.Time) error {
	rec := ActivityRecord{Activity: activity, Stage: stage, CompletedAt: now}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal %s result: %w", activity, err)
		}
		rec.Kind = result.Kind()
		rec.Result = data
	}
	i.Log = append(i.Log, rec)
	i.UpdatedAt = now
	return nil
}

// Completed reports whether the activity has a recorded result.
func (i *Instance) Completed(activity string) bool {
	for _, rec := range i.Log {
		if rec.Activity == activity {
			return true
		}
	}
	return false
}

// Result decodes the most recent recorded result of activity into out.
func (i *Instance) Result(activity string, out any) error {
	for n := len(i.Log) - 1; n >= 0; n-- {
		rec := i.Log[n]
		if rec.Activity != activity {
			continue
		}
		if len(rec.Result) == 0 {
			return fmt.Errorf("%w: activity %s recorded no result", ErrInvalidState, activity)
		}
		if err := json.Unmarshal(rec.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", activity, err)
		}
		return nil
	}
	return fmt.Errorf("%w: activity %s has no recorded result", ErrInvalidState, activity)
}

// Advance moves the instance to stage to, rejecting out-of-order transitions.
func (i *Instance) Advance(to Stage, reason string, now time.Time) error {
	if !CanTransition(i.Stage, to) {
		return fmt.Errorf("%w: transition %s -> %s", ErrInvalidState, i.Stage, to)
	}
	i.Transitions = append(i.Transitions, Transition{From: i.Stage, To: to, At: now, Reason: reason})
	i.Stage = to
	i.UpdatedAt = now
	if to.Terminal() {
		i.Wait = nil
		i.ArchivedAt = &now
		if to == StageRework {
			i.Status = StatusRework
			i.Reason = reason
		} else {
			i.Status = StatusCompleted
		}
	}
	return nil
}

// Fail marks the instance failed at its current stage.
func (i *Instance) Fail(reason string, now time.Time) {
	i.Status = StatusFailed
	i.Reason = reason
	i.Wait = nil
	i.UpdatedAt = now
}

// Visited returns every stage the instance has been in, in order.
func (i *Instance) Visited() []Stage {
	out := []Stage{StagePitched}
	for _, t := range i.Transitions {
		out = append(out, t.To)
	}
	return out
}

// TakeSignal removes and returns the oldest inbox signal with the given name.
func (i *Instance) TakeSignal(name string) (Signal, bool) {
	for n, sig := range i.Inbox {
		if sig.Name == name {
			i.Inbox = append(i.Inbox[:n:n], i.Inbox[n+1:]...)
			return sig, true
		}
	}
	return Signal{}, false
}

// LeasedByOther reports whether a live lease held by someone else exists.
func (i *Instance) LeasedByOther(owner string, now time.Time) bool {
	return i.Lease != nil && i.Lease.Owner != owner && now.Before(i.Lease.ExpiresAt)
}
