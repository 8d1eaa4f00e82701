// Package users models account creation for the target system. Plaintext
// passwords live only in memory and in the separate credentials file; the
// scrubbed configuration only ever carries the hash.
package users

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/osexec"
)

// usernamePattern follows useradd's default NAME_REGEX.
var usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]*\$?$`)

// User is a single account to create. Password is never serialized here;
// credentials are written through the Credentials type instead.
type User struct {
	Username    string   `json:"username" yaml:"username"`
	EncPassword string   `json:"enc_password,omitempty" yaml:"enc_password,omitempty"`
	Elevated    bool     `json:"sudo" yaml:"sudo"`
	Groups      []string `json:"groups,omitempty" yaml:"groups,omitempty"`
	Shell       string   `json:"shell,omitempty" yaml:"shell,omitempty"`

	Password string `json:"-" yaml:"-"`
}

// Validate checks the username shape and that some form of password exists.
func (u User) Validate() error {
	if !usernamePattern.MatchString(u.Username) || len(u.Username) > 32 {
		return cosaierr.UserInvalid(u.Username, "invalid username")
	}
	if u.Password == "" && u.EncPassword == "" {
		return cosaierr.UserInvalid(u.Username, "no password or password hash")
	}
	return nil
}

// HashPassword fills EncPassword from Password using openssl's sha512-crypt.
// A no-op when the hash is already present or no plaintext was given.
func (u *User) HashPassword(ctx context.Context, runner osexec.Runner) error {
	if u.EncPassword != "" || u.Password == "" {
		return nil
	}
	res, err := runner.RunWithInput(ctx, u.Password+"\n", "openssl", "passwd", "-6", "-stdin")
	if err != nil {
		return cosaierr.Wrap(err, cosaierr.CategoryAuth, cosaierr.SeverityError, fmt.Sprintf("hashing password for %s", u.Username))
	}
	hash := strings.TrimSpace(string(res.Output))
	if !strings.HasPrefix(hash, "$6$") {
		return cosaierr.New(cosaierr.CategoryAuth, cosaierr.SeverityError, fmt.Sprintf("unexpected hash output for %s", u.Username))
	}
	u.EncPassword = hash
	return nil
}

// Create runs useradd and friends inside the chroot.
func (u User) Create(ctx context.Context, chroot *osexec.ChrootRunner) error {
	args := []string{"-m"}
	if u.Shell != "" {
		args = append(args, "-s", u.Shell)
	}
	if u.EncPassword != "" {
		args = append(args, "-p", u.EncPassword)
	}
	groups := u.Groups
	if u.Elevated && !contains(groups, "wheel") {
		groups = append(groups, "wheel")
	}
	if len(groups) > 0 {
		args = append(args, "-G", strings.Join(groups, ","))
	}
	args = append(args, u.Username)

	if _, err := chroot.Run(ctx, "useradd", args...); err != nil {
		return cosaierr.Wrap(err, cosaierr.CategoryInstall, cosaierr.SeverityError, fmt.Sprintf("creating user %s", u.Username))
	}
	return nil
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

// AnyElevated reports whether at least one user can use sudo.
func AnyElevated(users []User) bool {
	for _, u := range users {
		if u.Elevated {
			return true
		}
	}
	return false
}
