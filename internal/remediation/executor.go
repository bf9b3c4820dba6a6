// Package remediation revokes an offending actor's group roles after a
// security incident is raised.
package remediation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/groupwatch/internal/policy"
	"github.com/onnwee/groupwatch/internal/security"
	"github.com/onnwee/groupwatch/internal/tracing"
)

// Role is one role assignment the platform reports for a group member.
type Role struct {
	ID   string
	Name string
}

// RoleAPI is the slice of the platform moderation API remediation
// needs: reading and revoking a member's role assignments.
type RoleAPI interface {
	// MemberRoles returns the member's current role assignments.
	MemberRoles(ctx context.Context, groupID, userID string) ([]Role, error)

	// RemoveRole revokes one role. The boolean mirrors the platform's
	// success flag.
	RemoveRole(ctx context.Context, groupID, userID, roleID string) (bool, error)
}

// IncidentUpdater is the slice of the incident store the executor
// writes through.
type IncidentUpdater interface {
	SetRolesRemoved(ctx context.Context, id string, removed bool, roleIDs []string) error
	AppendDetails(ctx context.Context, id, note string) error
}

// Executor removes an offending actor's group roles. Per-role failures
// are tolerated: whatever subset was revoked stays revoked, and the
// incident records the roles that succeeded.
type Executor struct {
	api       RoleAPI
	incidents IncidentUpdater
	logger    *slog.Logger

	// selfUserID is the authenticated user the service acts as, used
	// by the owner gate.
	selfUserID string
}

// NewExecutor creates a remediation executor acting as selfUserID.
func NewExecutor(api RoleAPI, incidents IncidentUpdater, selfUserID string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		api:        api,
		incidents:  incidents,
		logger:     logger,
		selfUserID: selfUserID,
	}
}

// Remediate revokes the incident actor's current group roles.
//
// The auto-remove policy must be enabled. When the policy additionally
// requires the group owner, and the service is not authenticated as
// the configured owner, the incident gains an explanatory note and
// remediation aborts without error. Remediating an actor who holds no
// roles is a safe no-op that leaves RolesRemoved false.
func (e *Executor) Remediate(ctx context.Context, incident *security.Incident, pol policy.EffectivePolicy) error {
	ctx, endSpan := tracing.StartSpan(ctx, "remediate_incident")
	err := e.remediate(ctx, incident, pol)
	endSpan(err)
	return err
}

func (e *Executor) remediate(ctx context.Context, incident *security.Incident, pol policy.EffectivePolicy) error {
	if !pol.AutoRemoveRoles {
		return nil
	}

	if pol.RequireOwner && e.selfUserID != pol.OwnerUserID {
		note := "Automatic role removal skipped: the monitoring account is not the configured group owner."
		if err := e.incidents.AppendDetails(ctx, incident.ID, note); err != nil {
			e.logger.Warn("failed to record skipped remediation",
				slog.String("incident_id", incident.ID),
				slog.String("error", err.Error()))
		}
		e.logger.Info("remediation skipped by owner gate",
			slog.String("incident_id", incident.ID),
			slog.String("group_id", incident.GroupID))
		return nil
	}

	roles, err := e.api.MemberRoles(ctx, incident.GroupID, incident.ActorID)
	if err != nil {
		return fmt.Errorf("failed to fetch actor roles: %w", err)
	}

	var removed []string
	for _, role := range roles {
		ok, err := e.api.RemoveRole(ctx, incident.GroupID, incident.ActorID, role.ID)
		if err != nil || !ok {
			// Partial success is accepted; already-removed roles are
			// not restored.
			reason := "platform reported failure"
			if err != nil {
				reason = err.Error()
			}
			e.logger.Warn("failed to remove role",
				slog.String("incident_id", incident.ID),
				slog.String("group_id", incident.GroupID),
				slog.String("actor_id", incident.ActorID),
				slog.String("role_id", role.ID),
				slog.String("error", reason))
			continue
		}
		removed = append(removed, role.ID)
	}

	if err := e.incidents.SetRolesRemoved(ctx, incident.ID, len(removed) > 0, removed); err != nil {
		return fmt.Errorf("failed to record remediation outcome: %w", err)
	}

	incident.RolesRemoved = len(removed) > 0
	incident.RemovedRoleIDs = removed

	e.logger.Info("remediation complete",
		slog.String("incident_id", incident.ID),
		slog.String("group_id", incident.GroupID),
		slog.String("actor_id", incident.ActorID),
		slog.Int("roles_removed", len(removed)),
		slog.Int("roles_total", len(roles)))
	return nil
}
