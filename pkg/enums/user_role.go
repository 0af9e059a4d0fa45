package enums

// UserRole represents the permissions carried in an access token.
type UserRole string

const (
	UserRoleCustomer UserRole = "customer"
	UserRoleOperator UserRole = "operator"
)

var userRoles = []UserRole{UserRoleCustomer, UserRoleOperator}

func (r UserRole) String() string { return string(r) }

func (r UserRole) IsValid() bool { return oneOf(userRoles, r) }

// ParseUserRole converts a token claim into a UserRole.
func ParseUserRole(value string) (UserRole, error) {
	return parse("user role", userRoles, value)
}
