package auth

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/staybook/staybook-cli/internal/statefile"
)

// storedCookie is the on-disk form of a cookie scoped to the API origin.
type storedCookie struct {
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// CookieStore is an http.CookieJar that persists cookies for the API origin
// across process runs. Cookies for any other host live in memory only.
//
// Server Set-Cookie headers and client-side writes go through the same jar,
// so a refresh response that rotates the token cookie updates the store.
// Lookups resolve against the base URL path, so cookies the server scopes
// to a mount point such as /api are found and removed like root cookies.
type CookieStore struct {
	mu    sync.Mutex
	base  *url.URL
	jar   *cookiejar.Jar
	file  *statefile.File[map[string]storedCookie]
	paths map[string]string
	now   func() time.Time
}

var _ http.CookieJar = (*CookieStore)(nil)

// NewCookieStore creates a cookie store for baseURL. If dir is empty the
// store is in-memory only.
func NewCookieStore(baseURL, dir string) (*CookieStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse base url: %q has no host", baseURL)
	}
	base := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: strings.TrimSuffix(u.Path, "/") + "/"}

	jar, err := newJar()
	if err != nil {
		return nil, err
	}

	s := &CookieStore{base: base, jar: jar, paths: make(map[string]string), now: time.Now}
	if dir != "" {
		s.file = statefile.New[map[string]storedCookie](dir, "cookies.json")
		s.replay()
	}
	return s, nil
}

func newJar() (*cookiejar.Jar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// replay loads persisted cookies into the jar, skipping expired ones.
func (s *CookieStore) replay() {
	stored, err := s.file.Load()
	if err != nil || len(stored) == 0 {
		return
	}
	now := s.now()
	cookies := make([]*http.Cookie, 0, len(stored))
	for name, c := range stored {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		s.paths[name] = path
		cookies = append(cookies, &http.Cookie{
			Name:     name,
			Value:    c.Value,
			Path:     path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	s.jar.SetCookies(s.base, cookies)
}

// SetCookies implements http.CookieJar. The interface has no error return,
// so a failed write to the state file is reported on stderr.
func (s *CookieStore) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if err := s.setCookies(u, cookies); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cookies not saved: %v\n", err)
	}
}

func (s *CookieStore) setCookies(u *url.URL, cookies []*http.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jar.SetCookies(u, cookies)
	if u.Host != s.base.Host {
		return nil
	}
	for _, c := range cookies {
		if c.MaxAge < 0 {
			delete(s.paths, c.Name)
			continue
		}
		s.paths[c.Name] = cookiePath(c, u)
	}
	return s.persist(u, cookies)
}

// Cookies implements http.CookieJar.
func (s *CookieStore) Cookies(u *url.URL) []*http.Cookie {
	return s.jar.Cookies(u)
}

// Get returns the value of the named cookie for the API origin, or "".
func (s *CookieStore) Get(name string) string {
	s.mu.Lock()
	u := s.urlFor(name)
	s.mu.Unlock()

	for _, c := range s.jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Set writes a cookie for the API origin at the path it was last seen on,
// or "/". A zero expires makes it a session cookie, which is still
// persisted until cleared.
func (s *CookieStore) Set(name, value string, expires time.Time) error {
	s.mu.Lock()
	path := s.paths[name]
	s.mu.Unlock()
	if path == "" {
		path = "/"
	}

	return s.setCookies(s.base, []*http.Cookie{{
		Name:    name,
		Value:   value,
		Path:    path,
		Expires: expires,
		Secure:  s.base.Scheme == "https",
	}})
}

// Delete removes the named cookies for the API origin, wherever on the
// base path they were scoped.
func (s *CookieStore) Delete(names ...string) error {
	s.mu.Lock()
	var cookies []*http.Cookie
	for _, name := range names {
		for _, path := range s.candidatePaths(name) {
			cookies = append(cookies, &http.Cookie{Name: name, Value: "", Path: path, MaxAge: -1})
		}
	}
	s.mu.Unlock()

	return s.setCookies(s.base, cookies)
}

// urlFor returns the URL a lookup of name resolves against. Callers hold s.mu.
func (s *CookieStore) urlFor(name string) *url.URL {
	if p, ok := s.paths[name]; ok {
		return &url.URL{Scheme: s.base.Scheme, Host: s.base.Host, Path: p}
	}
	return s.base
}

// candidatePaths lists every path a cookie called name may be scoped to.
// Callers hold s.mu.
func (s *CookieStore) candidatePaths(name string) []string {
	paths := []string{"/"}
	add := func(p string) {
		for _, have := range paths {
			if have == p {
				return
			}
		}
		paths = append(paths, p)
	}
	if s.base.Path != "/" {
		add(s.base.Path)
		add(strings.TrimSuffix(s.base.Path, "/"))
	}
	if p, ok := s.paths[name]; ok {
		add(p)
	}
	return paths
}

// cookiePath returns the path c applies to when set from u, defaulting to
// the directory of u's path like a browser does.
func cookiePath(c *http.Cookie, u *url.URL) string {
	if strings.HasPrefix(c.Path, "/") {
		return c.Path
	}
	p := u.Path
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

// persist mirrors cookie writes into the state file. Callers hold s.mu.
func (s *CookieStore) persist(u *url.URL, cookies []*http.Cookie) error {
	if s.file == nil || len(cookies) == 0 {
		return nil
	}
	now := s.now()
	err := s.file.Update(func(stored *map[string]storedCookie) error {
		if *stored == nil {
			*stored = make(map[string]storedCookie)
		}
		for _, c := range cookies {
			if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now)) {
				delete(*stored, c.Name)
				continue
			}
			expires := c.Expires
			if c.MaxAge > 0 {
				expires = now.Add(time.Duration(c.MaxAge) * time.Second)
			}
			(*stored)[c.Name] = storedCookie{
				Value:    c.Value,
				Path:     cookiePath(c, u),
				Domain:   c.Domain,
				Expires:  expires,
				Secure:   c.Secure,
				HttpOnly: c.HttpOnly,
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save cookies: %w", err)
	}
	return nil
}
