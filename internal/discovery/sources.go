package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Credential is a candidate account found on the local machine.
type Credential struct {
	Source       string    `json:"source"` // e.g. "claude-cli", "env"
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"access_token"`  // masked in API responses
	RefreshToken string    `json:"refresh_token"` // masked in API responses
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	ConfigPath   string    `json:"config_path,omitempty"`
}

// Source defines a credential location to scan.
type Source struct {
	Name        string
	Description string
	ConfigPaths []string // possible config file paths, ~ expands to $HOME
	Parser      func(path string) (*Credential, error)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Sources lists the known on-disk credential locations.
var Sources = []Source{
	{
		Name:        "claude-cli",
		Description: "Claude CLI OAuth credentials",
		ConfigPaths: []string{
			"~/.claude/.credentials.json",
			"~/.config/claude/.credentials.json",
		},
		Parser: parseClaudeCLICredentials,
	},
}

// EnvKeys are environment variables scanned for raw API keys.
var EnvKeys = []string{"ANTHROPIC_API_KEY", "ANTHROPIC_AUTH_TOKEN"}

// parseClaudeCLICredentials reads the Claude CLI credential file. The
// expiresAt field is unix milliseconds.
func parseClaudeCLICredentials(path string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file struct {
		ClaudeAiOauth struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
			ExpiresAt    int64  `json:"expiresAt"`
		} `json:"claudeAiOauth"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if file.ClaudeAiOauth.AccessToken == "" {
		return nil, nil
	}

	cred := &Credential{
		Source:       "claude-cli",
		AccessToken:  file.ClaudeAiOauth.AccessToken,
		RefreshToken: file.ClaudeAiOauth.RefreshToken,
		ConfigPath:   path,
	}
	if file.ClaudeAiOauth.ExpiresAt > 0 {
		cred.ExpiresAt = time.UnixMilli(file.ClaudeAiOauth.ExpiresAt)
	}
	return cred, nil
}

// scanEnv picks up raw API keys from the environment.
func scanEnv() []Credential {
	var out []Credential
	for _, key := range EnvKeys {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			continue
		}
		out = append(out, Credential{
			Source:      "env",
			AccessToken: value,
			ConfigPath:  key,
		})
	}
	return out
}
