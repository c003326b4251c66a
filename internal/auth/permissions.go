package auth

// Permission strings as they appear in the token's permissions claim.
const (
	PermGetMovies    = "get:movies"
	PermPostMovies   = "post:movies"
	PermPatchMovies  = "patch:movies"
	PermDeleteMovies = "delete:movies"
	PermGetActors    = "get:actors"
	PermPostActors   = "post:actors"
	PermPatchActors  = "patch:actors"
	PermDeleteActors = "delete:actors"
)

// Role names the tiers configured at the identity provider. The service
// never looks at a role; it only checks the permissions a role grants.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleDirector  Role = "director"
	RoleProducer  Role = "producer"
)

var rolePermissions = map[Role][]string{
	RoleAssistant: {PermGetMovies, PermGetActors},
	RoleDirector: {
		PermGetMovies, PermGetActors,
		PermPostMovies, PermPatchMovies,
		PermPostActors, PermPatchActors, PermDeleteActors,
	},
	RoleProducer: {
		PermGetMovies, PermGetActors,
		PermPostMovies, PermPatchMovies, PermDeleteMovies,
		PermPostActors, PermPatchActors, PermDeleteActors,
	},
}

// Permissions returns the permission set the identity provider grants to
// role. Unknown roles get none.
func (r Role) Permissions() []string {
	p := rolePermissions[r]
	out := make([]string, len(p))
	copy(out, p)
	return out
}
