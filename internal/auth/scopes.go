package auth

// OAuth scopes a delegated GitHub token needs for provisioning.
const (
	ScopeReadUser = "read:user"
	ScopeRepo     = "repo"
	ScopeWorkflow = "workflow"
)

// RequiredScopes is the scope set the OAuth proxy should request.
var RequiredScopes = []string{
	ScopeReadUser,
	ScopeRepo,
	ScopeWorkflow,
}
