// Package home manages the isolated per-session home directory handed to the
// agent process, including the config.toml the agent reads at startup.
package home

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/wagiedev/codex-relay/internal/sandbox"
)

const (
	configFileName = "config.toml"
	authFileName   = "auth.json"
	sessionsDir    = "sessions"
	dirMode        = 0o700
	fileMode       = 0o600
	tempPattern    = ".config-*.toml"
)

// ToolServerName is the key the relay's tool server is registered under.
const ToolServerName = "relay"

// MCPServer is one entry of the agent's mcp_servers table.
type MCPServer struct {
	URL string `toml:"url"`
}

// Config is the subset of the agent's config.toml the relay writes.
type Config struct {
	Model                 string                  `toml:"model,omitempty"`
	SandboxWorkspaceWrite *sandbox.WorkspaceWrite `toml:"sandbox_workspace_write,omitempty"`
	MCPServers            map[string]MCPServer    `toml:"mcp_servers,omitempty"`
}

// WithToolServer registers the relay's tool server at url.
func (c Config) WithToolServer(url string) Config {
	if url == "" {
		return c
	}

	servers := make(map[string]MCPServer, len(c.MCPServers)+1)
	for name, server := range c.MCPServers {
		servers[name] = server
	}

	servers[ToolServerName] = MCPServer{URL: url}
	c.MCPServers = servers

	return c
}

// Home is one isolated home directory.
type Home struct {
	ID  string
	Dir string

	log  *slog.Logger
	keep bool
}

// Create makes <stateDir>/sessions/<ulid>/, writes cfg as config.toml and
// copies the user's agent credentials in when they exist.
func Create(log *slog.Logger, stateDir string, cfg Config, keep bool) (*Home, error) {
	if stateDir == "" {
		stateDir = filepath.Join(os.TempDir(), "codex-relay")
	}

	id := ulid.Make().String()
	dir := filepath.Join(stateDir, sessionsDir, id)

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("create home directory: %w", err)
	}

	h := &Home{
		ID:   id,
		Dir:  dir,
		log:  log.With("component", "home", "home_id", id),
		keep: keep,
	}

	if err := writeTOMLFile(filepath.Join(dir, configFileName), cfg); err != nil {
		_ = os.RemoveAll(dir)

		return nil, fmt.Errorf("write agent config: %w", err)
	}

	if err := h.copyCredentials(); err != nil {
		h.log.Warn("Could not copy agent credentials", "error", err)
	}

	h.log.Debug("Created isolated home", "dir", dir)

	return h, nil
}

// Remove deletes the directory unless the home was created with keep.
func (h *Home) Remove() error {
	if h == nil || h.keep {
		return nil
	}

	if err := os.RemoveAll(h.Dir); err != nil {
		return fmt.Errorf("remove home directory: %w", err)
	}

	return nil
}

// Load reads the config.toml of a home directory.
func Load(dir string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		return cfg, fmt.Errorf("read agent config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode agent config: %w", err)
	}

	return cfg, nil
}

// UserHome returns the agent's regular home: $CODEX_HOME, else ~/.codex.
func UserHome() (string, error) {
	if dir := os.Getenv("CODEX_HOME"); dir != "" {
		return dir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(homeDir, ".codex"), nil
}

func (h *Home) copyCredentials() error {
	userHome, err := UserHome()
	if err != nil {
		return err
	}

	src, err := os.Open(filepath.Join(userHome, authFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("open credentials: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(filepath.Join(h.Dir, authFileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("create credentials: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()

		return fmt.Errorf("copy credentials: %w", err)
	}

	return dst.Close()
}

func writeTOMLFile(path string, file any) error {
	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), tempPattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true

	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()

		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tempFile.Chmod(fileMode); err != nil {
		_ = tempFile.Close()

		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}

	cleanup = false

	return nil
}
