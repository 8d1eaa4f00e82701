package config

import "encoding/json"

// Service is a systemd unit to enable in the target. The configuration
// accepts either a bare unit name or an object selecting a user service:
// "sshd" or {"unit": "syncthing", "user": "alice", "linger": true}.
type Service struct {
	Unit   string `json:"unit" yaml:"unit"`
	User   string `json:"user,omitempty" yaml:"user,omitempty"`
	Linger bool   `json:"linger,omitempty" yaml:"linger,omitempty"`
}

func (s *Service) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.Unit)
	}
	type plain Service
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Service(p)
	return nil
}

// MarshalJSON keeps the compact scalar form for plain system units.
func (s Service) MarshalJSON() ([]byte, error) {
	if s.User == "" && !s.Linger {
		return json.Marshal(s.Unit)
	}
	type plain Service
	return json.Marshal(plain(s))
}

// Command is a post-install command to run inside the target. The
// configuration accepts either a bare command line or an object selecting
// the account it runs as: "pacman -Syu" or {"cmd": "makepkg -si", "user": "alice"}.
type Command struct {
	Cmd  string `json:"cmd" yaml:"cmd"`
	User string `json:"user,omitempty" yaml:"user,omitempty"`
}

func (c *Command) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.Cmd)
	}
	type plain Command
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Command(p)
	return nil
}

// MarshalJSON keeps the compact scalar form for root commands.
func (c Command) MarshalJSON() ([]byte, error) {
	if c.User == "" {
		return json.Marshal(c.Cmd)
	}
	type plain Command
	return json.Marshal(plain(c))
}

// SystemServices returns the units enabled system-wide.
func (c *Config) SystemServices() []string {
	var units []string
	for _, s := range c.Services {
		if s.User == "" {
			units = append(units, s.Unit)
		}
	}
	return units
}

// UserServices returns the per-user service entries.
func (c *Config) UserServices() []Service {
	var out []Service
	for _, s := range c.Services {
		if s.User != "" {
			out = append(out, s)
		}
	}
	return out
}
