package users

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h8d13/cosai/internal/osexec"
)

func TestUserValidate(t *testing.T) {
	tests := []struct {
		name    string
		user    User
		wantErr bool
	}{
		{"valid", User{Username: "hadlee", Password: "x"}, false},
		{"valid with hash", User{Username: "deploy", EncPassword: "$6$abc"}, false},
		{"uppercase", User{Username: "Hadlee", Password: "x"}, true},
		{"leading digit", User{Username: "1user", Password: "x"}, true},
		{"no password", User{Username: "hadlee"}, true},
		{"too long", User{Username: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Password: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.user.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPasswordNeverMarshalled(t *testing.T) {
	u := User{Username: "hadlee", Password: "hunter22", EncPassword: "$6$salt$hash"}
	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter22")
	assert.Contains(t, string(data), "$6$salt$hash")
}

func TestRatePassword(t *testing.T) {
	tests := []struct {
		password string
		want     PasswordStrength
	}{
		{"short", StrengthVeryWeak},
		{"aaaaaaaa", StrengthWeak},
		{"aaaaAAAA11", StrengthModerate},
		{"Tr0ub4dor&312", StrengthStrong},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RatePassword(tt.password), tt.password)
	}
}

func TestCreatePlansUseradd(t *testing.T) {
	plan := osexec.NewPlanRunner()
	chroot := osexec.NewChrootRunner(plan, "/mnt/cosai")

	u := User{Username: "hadlee", EncPassword: "$6$x", Elevated: true, Groups: []string{"video"}, Shell: "/bin/zsh"}
	require.NoError(t, u.Create(context.Background(), chroot))

	cmds := plan.Commands()
	require.Len(t, cmds, 1)
	got := cmds[0]
	assert.Contains(t, got, "arch-chroot /mnt/cosai useradd")
	assert.Contains(t, got, "-G video,wheel")
	assert.Contains(t, got, "-s /bin/zsh")
}

func TestCredentialsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user_credentials.json")

	users := []User{
		{Username: "a", EncPassword: "$6$a"},
		{Username: "b"},
	}
	cf := BuildCredentials("$6$root", users)
	require.NoError(t, cf.Save(path))

	loaded, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, "$6$root", loaded.RootEncPassword)
	require.Len(t, loaded.Users, 1)

	merged := MergeCredentials(loaded, []User{{Username: "a"}})
	assert.Equal(t, "$6$a", merged[0].EncPassword)
}

func TestAnyElevated(t *testing.T) {
	assert.False(t, AnyElevated([]User{{Username: "a"}}))
	assert.True(t, AnyElevated([]User{{Username: "a"}, {Username: "b", Elevated: true}}))
}
