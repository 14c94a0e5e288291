package auth

import (
	"errors"
	"net/http"
	"time"
)

// Storage keys.
const (
	CookieToken        = "token"
	CookieRefreshToken = "refreshToken"
	KeyAdminToken      = "adminToken"
	KeyTokenMirror     = "token"
)

// refreshCookieTTL is applied to the refresh cookie when the client writes
// it itself after login.
const refreshCookieTTL = 7 * 24 * time.Hour

// CredentialStore owns the per-tenant tokens.
//
// The regular access token lives in the "token" cookie with a mirror in the
// key store; the cookie wins when both exist. The refresh token lives only
// in the "refreshToken" cookie. The admin token lives only in the key store.
type CredentialStore struct {
	cookies *CookieStore
	keys    *KeyStore
}

// NewCredentialStore creates a credential store over cookies and keys.
func NewCredentialStore(cookies *CookieStore, keys *KeyStore) *CredentialStore {
	return &CredentialStore{cookies: cookies, keys: keys}
}

// Jar returns the cookie jar shared by every HTTP client of the pipeline.
func (s *CredentialStore) Jar() http.CookieJar {
	return s.cookies
}

// Token returns the access token for tenant, or "" when absent.
func (s *CredentialStore) Token(t Tenant) (string, error) {
	if t == TenantAdmin {
		return s.get(KeyAdminToken)
	}
	if v := s.cookies.Get(CookieToken); v != "" {
		return v, nil
	}
	return s.get(KeyTokenMirror)
}

// RefreshToken returns the regular tenant's refresh token, or "".
func (s *CredentialStore) RefreshToken() string {
	return s.cookies.Get(CookieRefreshToken)
}

// Save stores a freshly issued session for tenant. refreshToken may be
// empty, in which case any existing refresh cookie is kept.
func (s *CredentialStore) Save(t Tenant, token, refreshToken string) error {
	if t == TenantAdmin {
		return s.keys.Set(KeyAdminToken, token)
	}
	if err := s.cookies.Set(CookieToken, token, time.Time{}); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := s.cookies.Set(CookieRefreshToken, refreshToken, time.Now().Add(refreshCookieTTL)); err != nil {
			return err
		}
	}
	return s.keys.Set(KeyTokenMirror, token)
}

// Clear removes every credential belonging to tenant.
func (s *CredentialStore) Clear(t Tenant) error {
	if t == TenantAdmin {
		return s.keys.Delete(KeyAdminToken)
	}
	// The mirror is removed even if the cookie file cannot be written.
	return errors.Join(
		s.cookies.Delete(CookieToken, CookieRefreshToken),
		s.keys.Delete(KeyTokenMirror),
	)
}

func (s *CredentialStore) get(name string) (string, error) {
	v, err := s.keys.Get(name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
