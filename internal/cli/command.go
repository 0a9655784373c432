package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/wagiedev/codex-relay/internal/config"
)

// HomeEnvVar points the agent at its configuration and state directory.
const HomeEnvVar = "CODEX_HOME"

// BuildArgs constructs the app-server command line.
func BuildArgs(options *config.Options) []string {
	args := []string{"app-server"}

	if options == nil {
		return args
	}

	return append(args, options.Args...)
}

// BuildEnvironment constructs the environment for the agent process.
// Later entries win, so user Env overrides the inherited environment and
// the isolated home overrides both.
func BuildEnvironment(options *config.Options) []string {
	env := os.Environ()

	if options == nil {
		return env
	}

	for key, value := range options.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}

	if options.HomeDir != "" {
		env = append(env, HomeEnvVar+"="+options.HomeDir)
	}

	return env
}

// LookupEnv returns the last value of key in env, mirroring how exec
// resolves duplicate entries.
func LookupEnv(env []string, key string) (string, bool) {
	prefix := key + "="

	for i := len(env) - 1; i >= 0; i-- {
		if value, ok := strings.CutPrefix(env[i], prefix); ok {
			return value, true
		}
	}

	return "", false
}
