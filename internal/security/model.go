// Package security tracks moderation actions per actor and raises
// incidents when an actor's action rate in a monitored category
// exceeds its configured threshold within a sliding window.
package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/groupwatch/internal/policy"
)

// Action is one monitored moderation event attributed to an actor.
// Rows are append-only; retention is handled by an explicit operator
// command, never by the tracking path.
type Action struct {
	ID         int64
	GroupID    string
	ActorID    string
	ActorName  string
	Category   policy.ActionCategory
	TargetID   string
	TargetName string
	OccurredAt time.Time
	Details    string
}

// Incident is a raised anomaly record. RolesRemoved and
// DiscordNotified only ever transition false to true; Details only
// grows. Resolution is an explicit operator action.
type Incident struct {
	ID        string
	GroupID   string
	ActorID   string
	ActorName string

	Type             string
	ActionCount      int
	TimeframeMinutes int
	Threshold        int

	RolesRemoved   bool
	RemovedRoleIDs []string

	DiscordNotified bool

	DetectedAt time.Time
	Details    string

	Resolved   bool
	ResolvedAt *time.Time
}

// Summary builds the human-readable Details text for a fresh incident.
func (i *Incident) Summary() string {
	return fmt.Sprintf("%s performed %d %s action(s) within %d minute(s), exceeding the threshold of %d.",
		i.ActorName, i.ActionCount, strings.ReplaceAll(i.Type, "_", " "),
		i.TimeframeMinutes, i.Threshold)
}
