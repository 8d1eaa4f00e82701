package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	cosaierr "github.com/h8d13/cosai/internal/errors"
)

// Load reads a configuration file, expanding ${VAR} references from the
// process environment. .env and .env.local are loaded first when present so
// secrets can stay out of the configuration itself.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, cosaierr.ConfigNotFound(path)
	}
	if err != nil {
		return nil, cosaierr.Wrap(err, cosaierr.CategoryConfig, cosaierr.SeverityFatal, "reading configuration")
	}
	return parse(data, isYAMLPath(path))
}

// LoadURL fetches a configuration over HTTP(S).
func LoadURL(url string) (*Config, error) {
	loadEnvFiles()

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, cosaierr.DownloadError(url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, cosaierr.DownloadError(url, fmt.Errorf("server returned %s", resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, cosaierr.DownloadError(url, err)
	}
	return parse(data, isYAMLPath(url))
}

func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("could not load env file", "file", name, "error", err)
			continue
		}
		slog.Debug("loaded environment variables", "file", name)
	}
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// parse decodes JSON directly; YAML goes through a generic decode and JSON
// re-encode so both formats honor the same field names.
func parse(data []byte, isYAML bool) (*Config, error) {
	expanded := []byte(os.ExpandEnv(string(data)))

	if isYAML || (len(trimLeft(expanded)) > 0 && trimLeft(expanded)[0] != '{') {
		var loose map[string]any
		if err := yaml.Unmarshal(expanded, &loose); err != nil {
			return nil, cosaierr.Wrap(err, cosaierr.CategoryConfig, cosaierr.SeverityFatal, "parsing yaml configuration")
		}
		var err error
		expanded, err = json.Marshal(loose)
		if err != nil {
			return nil, cosaierr.Wrap(err, cosaierr.CategoryConfig, cosaierr.SeverityFatal, "normalizing yaml configuration")
		}
	}

	cfg := &Config{}
	if err := json.Unmarshal(expanded, cfg); err != nil {
		return nil, cosaierr.Wrap(err, cosaierr.CategoryConfig, cosaierr.SeverityFatal, "parsing configuration")
	}
	return cfg, nil
}

func trimLeft(data []byte) []byte {
	for i, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return data[i:]
		}
	}
	return nil
}

// Init writes an example configuration for editing.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	cfg := Default()
	cfg.Hostname = "archbox"
	cfg.Packages = []string{"vim", "git"}
	cfg.Services = []Service{{Unit: "sshd"}}

	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
