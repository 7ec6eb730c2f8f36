package importer

import (
	"time"

	"k8s.io/utils/ptr"
)

// Context holds the parameters of an import run. It is a value type, the With methods return modified copies.
type Context struct {
	username     string
	organization string
	startAt      *time.Time
	autoCommit   bool
}

// NewContext returns a Context. An empty username or organization means none, a nil startAt means a full import.
func NewContext(username, organization string, startAt *time.Time, autoCommit bool) Context {
	return Context{}.
		WithUsername(username).
		WithOrganization(organization).
		WithStartAt(startAt).
		WithAutoCommit(autoCommit)
}

func (c Context) Username() string {
	return c.username
}

func (c Context) Organization() string {
	return c.organization
}

// StartAt returns a copy of the incremental start time or nil.
func (c Context) StartAt() *time.Time {
	if c.startAt == nil {
		return nil
	}

	return ptr.To(*c.startAt)
}

func (c Context) AutoCommit() bool {
	return c.autoCommit
}

func (c Context) WithUsername(username string) Context {
	c.username = username
	return c
}

func (c Context) WithOrganization(organization string) Context {
	c.organization = organization
	return c
}

func (c Context) WithStartAt(startAt *time.Time) Context {
	if startAt == nil {
		c.startAt = nil
		return c
	}

	c.startAt = ptr.To(*startAt)
	return c
}

func (c Context) WithAutoCommit(autoCommit bool) Context {
	c.autoCommit = autoCommit
	return c
}
