package domain

// Role enumerates the capabilities a bearer token may assert.
type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
	RolePipeline Role = "pipeline"
)

// Principal is the authenticated caller behind a request.
type Principal struct {
	Subject string
	Roles   []Role
}

// Has reports whether the principal carries role r.
func (p Principal) Has(r Role) bool {
	for _, have := range p.Roles {
		if have == r {
			return true
		}
	}
	return false
}
