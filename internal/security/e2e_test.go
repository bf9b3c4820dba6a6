package security_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/groupwatch/internal/notify"
	"github.com/onnwee/groupwatch/internal/policy"
	"github.com/onnwee/groupwatch/internal/remediation"
	"github.com/onnwee/groupwatch/internal/security"
)

type scenarioRoleAPI struct {
	roles       []remediation.Role
	removeCalls int
}

func (a *scenarioRoleAPI) MemberRoles(_ context.Context, groupID, userID string) ([]remediation.Role, error) {
	return a.roles, nil
}

func (a *scenarioRoleAPI) RemoveRole(_ context.Context, groupID, userID, roleID string) (bool, error) {
	a.removeCalls++
	return true, nil
}

// TestMassKickScenario walks the full detection pipeline: three group
// kicks inside a ten minute window under a threshold-3 override raise
// exactly one incident, revoke the actor's roles, and deliver exactly
// one webhook alert carrying the count and threshold.
func TestMassKickScenario(t *testing.T) {
	ctx := context.Background()

	var alerts []discordgo.WebhookParams
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var params discordgo.WebhookParams
		if err := json.Unmarshal(body, &params); err != nil {
			t.Errorf("malformed webhook payload: %v", err)
		}
		alerts = append(alerts, params)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	threshold := 3
	provider := policy.NewInMemoryProvider(policy.GlobalPolicy{
		MonitoringEnabled: true,
		NotifyDiscord:     true,
	})
	autoRemove := true
	provider.SetGroupPolicy(&policy.GroupPolicy{
		GroupID:         "grp_g",
		AutoRemoveRoles: &autoRemove,
		WebhookURL:      srv.URL,
		Categories: map[policy.ActionCategory]policy.CategoryOverride{
			policy.CategoryGroupKick: {Threshold: &threshold},
		},
	})
	resolver := policy.NewResolver(provider)

	actions := security.NewInMemoryActionStore()
	incidents := security.NewInMemoryIncidentStore()
	roleAPI := &scenarioRoleAPI{roles: []remediation.Role{{ID: "rol_mod", Name: "Moderator"}}}
	executor := remediation.NewExecutor(roleAPI, incidents, "usr_self", nil)
	dispatcher := notify.NewDispatcher(resolver, notify.NewWebhookClient(srv.Client(), nil), incidents, nil)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	tracker := security.NewTracker(security.TrackerConfig{
		Now: func() time.Time { return clock },
	}, actions, incidents, resolver, executor, dispatcher)

	// Actor A kicks at t=0, t=2m, t=4m.
	for i, offset := range []time.Duration{0, 2 * time.Minute, 4 * time.Minute} {
		clock = base.Add(offset)
		ok := tracker.TrackAction(ctx, security.ActionInput{
			GroupID:   "grp_g",
			ActorID:   "usr_a",
			ActorName: "Actor A",
			Category:  policy.CategoryGroupKick,
			TargetID:  "usr_victim",
		})
		if !ok {
			t.Fatalf("TrackAction(%d) = false, want true", i)
		}
	}

	raised := incidents.All()
	if len(raised) != 1 {
		t.Fatalf("incidents raised = %d, want exactly 1", len(raised))
	}
	inc := raised[0]
	if inc.ActionCount != 3 || inc.Threshold != 3 {
		t.Errorf("incident count/threshold = %d/%d, want 3/3", inc.ActionCount, inc.Threshold)
	}
	if inc.Type != "mass_group_kick" {
		t.Errorf("incident type = %s, want mass_group_kick", inc.Type)
	}
	if !inc.RolesRemoved {
		t.Error("RolesRemoved = false, want true after successful revocation")
	}
	if roleAPI.removeCalls != 1 {
		t.Errorf("RemoveRole calls = %d, want 1", roleAPI.removeCalls)
	}
	if !inc.DiscordNotified {
		t.Error("DiscordNotified = false, want true after alert delivery")
	}

	if len(alerts) != 1 {
		t.Fatalf("webhook deliveries = %d, want exactly 1", len(alerts))
	}
	alert := alerts[0]
	if len(alert.Embeds) != 1 {
		t.Fatalf("alert embeds = %d, want 1", len(alert.Embeds))
	}
	var actionsField string
	for _, f := range alert.Embeds[0].Fields {
		if f.Name == "Actions" {
			actionsField = f.Value
		}
	}
	if !strings.Contains(actionsField, "3") || !strings.Contains(actionsField, "threshold 3") {
		t.Errorf("Actions field = %q, want count 3 and threshold 3", actionsField)
	}
}
