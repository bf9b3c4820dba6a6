package remediation

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/onnwee/groupwatch/internal/policy"
	"github.com/onnwee/groupwatch/internal/security"
)

type fakeRoleAPI struct {
	roles    []Role
	rolesErr error

	// failRoles maps role IDs to the failure mode RemoveRole should
	// report for them.
	failRoles   map[string]error
	rejectRoles map[string]bool

	memberRolesCalls int
	removeCalls      []string
}

func (f *fakeRoleAPI) MemberRoles(_ context.Context, groupID, userID string) ([]Role, error) {
	f.memberRolesCalls++
	if f.rolesErr != nil {
		return nil, f.rolesErr
	}
	return f.roles, nil
}

func (f *fakeRoleAPI) RemoveRole(_ context.Context, groupID, userID, roleID string) (bool, error) {
	f.removeCalls = append(f.removeCalls, roleID)
	if err, ok := f.failRoles[roleID]; ok {
		return false, err
	}
	if f.rejectRoles[roleID] {
		return false, nil
	}
	return true, nil
}

func testIncident() *security.Incident {
	return &security.Incident{
		ID:      "inc_1",
		GroupID: "grp_a",
		ActorID: "usr_mod",
		Type:    "mass_group_kick",
	}
}

func autoRemovePolicy() policy.EffectivePolicy {
	return policy.EffectivePolicy{AutoRemoveRoles: true}
}

func newTestExecutor(api *fakeRoleAPI, incidents *security.InMemoryIncidentStore, selfUserID string) *Executor {
	return NewExecutor(api, incidents, selfUserID, nil)
}

func TestRemediate_RemovesAllRoles(t *testing.T) {
	ctx := context.Background()
	api := &fakeRoleAPI{roles: []Role{{ID: "rol_1", Name: "Moderator"}, {ID: "rol_2", Name: "Admin"}}}
	incidents := security.NewInMemoryIncidentStore()
	inc := testIncident()
	if err := incidents.Create(ctx, inc); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	exec := newTestExecutor(api, incidents, "usr_self")
	if err := exec.Remediate(ctx, inc, autoRemovePolicy()); err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}

	if !inc.RolesRemoved {
		t.Error("incident RolesRemoved = false, want true")
	}
	if want := []string{"rol_1", "rol_2"}; !reflect.DeepEqual(inc.RemovedRoleIDs, want) {
		t.Errorf("RemovedRoleIDs = %v, want %v", inc.RemovedRoleIDs, want)
	}

	stored, err := incidents.Get(ctx, inc.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !stored.RolesRemoved {
		t.Error("stored incident RolesRemoved = false, want true")
	}
}

func TestRemediate_NoRolesIsNoOp(t *testing.T) {
	ctx := context.Background()
	api := &fakeRoleAPI{}
	incidents := security.NewInMemoryIncidentStore()
	inc := testIncident()
	if err := incidents.Create(ctx, inc); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	exec := newTestExecutor(api, incidents, "usr_self")
	if err := exec.Remediate(ctx, inc, autoRemovePolicy()); err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}

	if inc.RolesRemoved {
		t.Error("RolesRemoved = true, want false for actor with no roles")
	}
	if len(api.removeCalls) != 0 {
		t.Errorf("RemoveRole called %d times, want 0", len(api.removeCalls))
	}

	stored, err := incidents.Get(ctx, inc.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.RolesRemoved {
		t.Error("stored incident RolesRemoved = true, want false")
	}
}

func TestRemediate_PartialFailureKeepsSubset(t *testing.T) {
	ctx := context.Background()
	api := &fakeRoleAPI{
		roles: []Role{
			{ID: "rol_1", Name: "Moderator"},
			{ID: "rol_2", Name: "Admin"},
			{ID: "rol_3", Name: "Curator"},
		},
		failRoles:   map[string]error{"rol_2": errors.New("internal error")},
		rejectRoles: map[string]bool{"rol_3": true},
	}
	incidents := security.NewInMemoryIncidentStore()
	inc := testIncident()
	if err := incidents.Create(ctx, inc); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	exec := newTestExecutor(api, incidents, "usr_self")
	if err := exec.Remediate(ctx, inc, autoRemovePolicy()); err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}

	// All three roles are attempted even after failures.
	if len(api.removeCalls) != 3 {
		t.Errorf("RemoveRole called %d times, want 3", len(api.removeCalls))
	}
	if !inc.RolesRemoved {
		t.Error("RolesRemoved = false, want true for partial success")
	}
	if want := []string{"rol_1"}; !reflect.DeepEqual(inc.RemovedRoleIDs, want) {
		t.Errorf("RemovedRoleIDs = %v, want %v", inc.RemovedRoleIDs, want)
	}
}

func TestRemediate_AllRemovalsFail(t *testing.T) {
	ctx := context.Background()
	api := &fakeRoleAPI{
		roles:     []Role{{ID: "rol_1", Name: "Moderator"}},
		failRoles: map[string]error{"rol_1": errors.New("forbidden")},
	}
	incidents := security.NewInMemoryIncidentStore()
	inc := testIncident()
	if err := incidents.Create(ctx, inc); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	exec := newTestExecutor(api, incidents, "usr_self")
	if err := exec.Remediate(ctx, inc, autoRemovePolicy()); err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}

	if inc.RolesRemoved {
		t.Error("RolesRemoved = true, want false when every removal fails")
	}
	if len(inc.RemovedRoleIDs) != 0 {
		t.Errorf("RemovedRoleIDs = %v, want empty", inc.RemovedRoleIDs)
	}
}

func TestRemediate_RoleFetchFailure(t *testing.T) {
	ctx := context.Background()
	api := &fakeRoleAPI{rolesErr: errors.New("platform unreachable")}
	incidents := security.NewInMemoryIncidentStore()
	inc := testIncident()
	if err := incidents.Create(ctx, inc); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	exec := newTestExecutor(api, incidents, "usr_self")
	if err := exec.Remediate(ctx, inc, autoRemovePolicy()); err == nil {
		t.Fatal("Remediate() error = nil, want error on role fetch failure")
	}
}

func TestRemediate_OwnerGateBlocks(t *testing.T) {
	ctx := context.Background()
	api := &fakeRoleAPI{roles: []Role{{ID: "rol_1", Name: "Moderator"}}}
	incidents := security.NewInMemoryIncidentStore()
	inc := testIncident()
	if err := incidents.Create(ctx, inc); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	pol := autoRemovePolicy()
	pol.RequireOwner = true
	pol.OwnerUserID = "usr_owner"

	exec := newTestExecutor(api, incidents, "usr_not_owner")
	if err := exec.Remediate(ctx, inc, pol); err != nil {
		t.Fatalf("Remediate() error = %v, want nil from owner gate", err)
	}

	if api.memberRolesCalls != 0 || len(api.removeCalls) != 0 {
		t.Errorf("platform API called despite owner gate: fetches=%d removals=%d",
			api.memberRolesCalls, len(api.removeCalls))
	}

	stored, err := incidents.Get(ctx, inc.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Details == "" {
		t.Error("incident Details empty, want skip note appended")
	}
	if stored.RolesRemoved {
		t.Error("RolesRemoved = true, want false when gated")
	}
}

func TestRemediate_OwnerGatePassesForOwner(t *testing.T) {
	ctx := context.Background()
	api := &fakeRoleAPI{roles: []Role{{ID: "rol_1", Name: "Moderator"}}}
	incidents := security.NewInMemoryIncidentStore()
	inc := testIncident()
	if err := incidents.Create(ctx, inc); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	pol := autoRemovePolicy()
	pol.RequireOwner = true
	pol.OwnerUserID = "usr_owner"

	exec := newTestExecutor(api, incidents, "usr_owner")
	if err := exec.Remediate(ctx, inc, pol); err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}

	if !inc.RolesRemoved {
		t.Error("RolesRemoved = false, want true when service is the owner")
	}
}

func TestRemediate_AutoRemoveDisabled(t *testing.T) {
	ctx := context.Background()
	api := &fakeRoleAPI{roles: []Role{{ID: "rol_1", Name: "Moderator"}}}
	incidents := security.NewInMemoryIncidentStore()
	inc := testIncident()
	if err := incidents.Create(ctx, inc); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	exec := newTestExecutor(api, incidents, "usr_self")
	if err := exec.Remediate(ctx, inc, policy.EffectivePolicy{AutoRemoveRoles: false}); err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}

	if api.memberRolesCalls != 0 {
		t.Errorf("MemberRoles called %d times, want 0 with auto-remove disabled", api.memberRolesCalls)
	}
}
