package security

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"sigs.k8s.io/yaml"
)

var (
	ErrUsernameRequired     = errors.New("the username is required if the organization name is defined")
	ErrUserNotFound         = errors.New("user does not exist")
	ErrOrganizationNotFound = errors.New("organization does not exist")
	ErrNotMember            = errors.New("user is not a member of the organization")
)

type User struct {
	Username      string   `json:"username"`
	Roles         []string `json:"roles,omitempty"`
	Organizations []string `json:"organizations,omitempty"`
}

// MemberOf reports whether the user belongs to the organization.
func (u User) MemberOf(organization string) bool {
	return slices.Contains(u.Organizations, organization)
}

type Organization struct {
	Name string `json:"name"`
}

// Directory resolves the identities an import can run as.
type Directory interface {
	User(ctx context.Context, username string) (User, error)
	Organization(ctx context.Context, name string) (Organization, error)
}

// StaticDirectory is a Directory backed by a fixed set of users and organizations.
type StaticDirectory struct {
	Users         []User         `json:"users,omitempty"`
	Organizations []Organization `json:"organizations,omitempty"`
}

// LoadDirectory reads a StaticDirectory from a yaml or json file.
func LoadDirectory(path string) (*StaticDirectory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	dir := &StaticDirectory{}
	if err := yaml.UnmarshalStrict(b, dir); err != nil {
		return nil, fmt.Errorf("failed to decode directory %q: %w", path, err)
	}

	return dir, nil
}

func (d *StaticDirectory) User(_ context.Context, username string) (User, error) {
	idx := slices.IndexFunc(d.Users, func(u User) bool {
		return u.Username == username
	})

	if idx < 0 {
		return User{}, fmt.Errorf("%w: %q", ErrUserNotFound, username)
	}

	return d.Users[idx], nil
}

func (d *StaticDirectory) Organization(_ context.Context, name string) (Organization, error) {
	idx := slices.IndexFunc(d.Organizations, func(o Organization) bool {
		return o.Name == name
	})

	if idx < 0 {
		return Organization{}, fmt.Errorf("%w: %q", ErrOrganizationNotFound, name)
	}

	return d.Organizations[idx], nil
}
