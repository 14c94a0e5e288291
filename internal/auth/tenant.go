// Package auth holds the credential storage used by the request pipeline:
// a cookie-backed store for the regular tenant's token pair and a
// keyring-backed key/value store for the admin token and the regular
// token mirror.
package auth

// Tenant selects which credential slot a request authenticates against.
type Tenant int

const (
	// TenantRegular is the guest/hotel/service-provider session.
	TenantRegular Tenant = iota
	// TenantAdmin is the separate platform-admin session.
	TenantAdmin
)

func (t Tenant) String() string {
	if t == TenantAdmin {
		return "admin"
	}
	return "regular"
}

// MarshalText renders the tenant by name.
func (t Tenant) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}
