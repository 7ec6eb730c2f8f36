package security

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/raffis/importer/pkg/importer"
)

// Principal is the identity a run is executed as.
type Principal struct {
	User         User
	Organization *Organization
}

// Session holds the principal of the current run.
type Session struct {
	principal *Principal
	mu        sync.RWMutex
}

// Principal returns the authenticated principal or nil for anonymous runs.
func (s *Session) Principal() *Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.principal
}

func (s *Session) set(p *Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.principal = p
}

// Listener authenticates the user and the organization of a run before anything is imported.
type Listener struct {
	directory Directory
	session   *Session
	logger    logr.Logger
}

type Option func(*Listener)

func WithLogger(logger logr.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

func NewListener(directory Directory, session *Session, opts ...Option) *Listener {
	l := &Listener{
		directory: directory,
		session:   session,
		logger:    logr.Discard(),
	}

	for _, o := range opts {
		o(l)
	}

	return l
}

func (l *Listener) Subscribe(bus *importer.EventBus, priority int) {
	importer.On(bus, priority, l.OnPreImport)
}

func (l *Listener) OnPreImport(ctx context.Context, e importer.PreImport) error {
	username := e.Context.Username()
	organization := e.Context.Organization()
	l.session.set(nil)

	if username == "" && organization == "" {
		return nil
	}

	if username == "" {
		return ErrUsernameRequired
	}

	user, err := l.directory.User(ctx, username)
	if err != nil {
		return err
	}

	principal := &Principal{User: user}

	if organization != "" {
		org, err := l.directory.Organization(ctx, organization)
		if err != nil {
			return err
		}

		if !user.MemberOf(org.Name) {
			return fmt.Errorf("%w: %q is not in %q", ErrNotMember, username, organization)
		}

		principal.Organization = &org
	}

	l.session.set(principal)
	l.logger.V(1).Info("import authenticated",
		"importer_pipeline", e.Pipeline,
		"username", username,
		"organization", organization,
	)

	return nil
}
