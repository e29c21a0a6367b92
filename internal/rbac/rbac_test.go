package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleOwner, ActionShare, true},
		{RoleOwner, ActionWrite, true},
		{RoleEditor, ActionWrite, true},
		{RoleEditor, ActionShare, false},
		{RoleCommenter, ActionComment, true},
		{RoleCommenter, ActionWrite, false},
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionComment, false},
		{Role("bogus"), ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("editor") != RoleEditor {
		t.Error("expected editor to survive normalization")
	}
	if Normalize("superuser") != RoleViewer {
		t.Error("expected unknown role to normalize to viewer")
	}
}

func TestCanManageWorkspace(t *testing.T) {
	if !CanManageWorkspace(WorkspaceOwner) || !CanManageWorkspace(WorkspaceAdmin) {
		t.Error("owner and admin should manage workspace")
	}
	if CanManageWorkspace(WorkspaceMember) {
		t.Error("member should not manage workspace")
	}
}
