package nav

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/staybook/staybook-cli/internal/statefile"
)

// State is the persisted navigational context.
type State struct {
	Route        Route     `json:"route"`
	LastRedirect string    `json:"last_redirect,omitempty"`
	RedirectedAt time.Time `json:"redirected_at,omitzero"`
	Redirects    int       `json:"redirects,omitempty"`
}

// FileNavigator is a Navigator and Router backed by a state file, so a
// redirect performed by one invocation is the current route of the next.
type FileNavigator struct {
	file     *statefile.File[State]
	now      func() time.Time
	onChange func(path string)
	log      zerolog.Logger
}

// NewFileNavigator creates a navigator persisting to dir/route.json.
func NewFileNavigator(dir string) *FileNavigator {
	return &FileNavigator{
		file: statefile.New[State](dir, "route.json"),
		now:  time.Now,
		log:  zerolog.Nop(),
	}
}

// SetLogger sets the logger that reports state file failures.
func (n *FileNavigator) SetLogger(log zerolog.Logger) {
	n.log = log
}

// OnRedirect registers fn to be called after every redirect.
func (n *FileNavigator) OnRedirect(fn func(path string)) {
	n.onChange = fn
}

// Current implements Router. Unknown state reads as Root.
func (n *FileNavigator) Current() Route {
	s, err := n.file.Load()
	if err != nil || s.Route == "" {
		return Root
	}
	return s.Route
}

// Redirect implements Navigator. Navigator has no error return, so a
// failed write is logged and observers are still notified.
func (n *FileNavigator) Redirect(path string) {
	err := n.file.Update(func(s *State) error {
		s.Route = Route(path)
		s.LastRedirect = path
		s.RedirectedAt = n.now()
		s.Redirects++
		return nil
	})
	if err != nil {
		n.log.Warn().Err(err).Str("redirect", path).Str("file", n.file.Path()).Msg("route not saved")
	}
	if n.onChange != nil {
		n.onChange(path)
	}
}

// Set moves to route without counting it as a redirect.
func (n *FileNavigator) Set(route Route) error {
	return n.file.Update(func(s *State) error {
		s.Route = route
		return nil
	})
}

// State returns the persisted state.
func (n *FileNavigator) State() (State, error) {
	s, err := n.file.Load()
	if err != nil {
		return State{}, err
	}
	if s.Route == "" {
		s.Route = Root
	}
	return s, nil
}
