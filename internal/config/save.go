package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/users"
)

// ConfigurationFileName is the shareable half of a saved configuration.
const ConfigurationFileName = "user_configuration.json"

// CredentialsFileName holds the password hashes, written 0600.
const CredentialsFileName = "user_credentials.json"

// SaveScrubbed writes the configuration and its credentials as two files in
// dir. The configuration file carries no hashes and can be published.
func (c *Config) SaveScrubbed(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	scrubbed := *c
	scrubbed.RootEncPassword = ""
	scrubbed.Users = make([]users.User, len(c.Users))
	for i, u := range c.Users {
		u.EncPassword = ""
		u.Password = ""
		scrubbed.Users[i] = u
	}

	data, err := json.MarshalIndent(&scrubbed, "", "    ")
	if err != nil {
		return cosaierr.Wrap(err, cosaierr.CategoryConfig, cosaierr.SeverityError, "encoding configuration")
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigurationFileName), append(data, '\n'), 0o644); err != nil {
		return cosaierr.Wrap(err, cosaierr.CategoryConfig, cosaierr.SeverityError, "writing configuration")
	}

	creds := users.BuildCredentials(c.RootEncPassword, c.Users)
	if err := creds.Save(filepath.Join(dir, CredentialsFileName)); err != nil {
		return cosaierr.Wrap(err, cosaierr.CategoryConfig, cosaierr.SeverityError, "writing credentials")
	}
	return nil
}

// LoadCredentialsInto merges a credentials file back into the configuration.
func (c *Config) LoadCredentialsInto(path string) error {
	cf, err := users.LoadCredentials(path)
	if err != nil {
		return err
	}
	if c.RootEncPassword == "" {
		c.RootEncPassword = cf.RootEncPassword
	}
	c.Users = users.MergeCredentials(cf, c.Users)
	return nil
}
