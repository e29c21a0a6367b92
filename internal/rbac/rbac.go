package rbac

type Role string
type Action string

// Document roles, ordered from weakest to strongest.
const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleOwner     Role = "owner"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	ActionShare   Action = "share"
)

// Workspace member roles.
const (
	WorkspaceOwner  = "owner"
	WorkspaceAdmin  = "admin"
	WorkspaceMember = "member"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	case RoleCommenter:
		return action == ActionRead || action == ActionComment
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleOwner:
		return Role(role)
	default:
		return RoleViewer
	}
}

// CanManageWorkspace reports whether a workspace member role may change
// workspace settings or membership.
func CanManageWorkspace(memberRole string) bool {
	return memberRole == WorkspaceOwner || memberRole == WorkspaceAdmin
}
