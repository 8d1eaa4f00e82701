package users

import (
	"encoding/json"
	"os"
)

// Entry pairs a username with its hash for the credentials file.
type Entry struct {
	Username    string `json:"username"`
	EncPassword string `json:"enc_password"`
}

// CredentialsFile is the sensitive half of a saved configuration. It is
// written to its own file with tight permissions so the main configuration
// can be shared freely.
type CredentialsFile struct {
	RootEncPassword string  `json:"root_enc_password,omitempty"`
	Users           []Entry `json:"users,omitempty"`
}

// BuildCredentials collects hashes from the users and root hash.
func BuildCredentials(rootEncPassword string, users []User) CredentialsFile {
	cf := CredentialsFile{RootEncPassword: rootEncPassword}
	for _, u := range users {
		if u.EncPassword != "" {
			cf.Users = append(cf.Users, Entry{Username: u.Username, EncPassword: u.EncPassword})
		}
	}
	return cf
}

// Save writes the credentials file with owner-only permissions.
func (cf CredentialsFile) Save(path string) error {
	data, err := json.MarshalIndent(cf, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// LoadCredentials reads a previously saved credentials file.
func LoadCredentials(path string) (CredentialsFile, error) {
	var cf CredentialsFile
	data, err := os.ReadFile(path)
	if err != nil {
		return cf, err
	}
	err = json.Unmarshal(data, &cf)
	return cf, err
}

// MergeCredentials copies hashes from the credentials file onto matching
// users that have none of their own.
func MergeCredentials(cf CredentialsFile, users []User) []User {
	byName := make(map[string]string, len(cf.Users))
	for _, e := range cf.Users {
		byName[e.Username] = e.EncPassword
	}
	for i := range users {
		if users[i].EncPassword == "" {
			users[i].EncPassword = byName[users[i].Username]
		}
	}
	return users
}
