// Package cli locates the codex binary and builds the command line and
// environment used to run it as an app-server.
//
// # Discovery
//
//	discoverer := cli.NewDiscoverer(&cli.Config{
//	    AgentPath: "",           // Optional explicit path
//	    Logger:    slog.Default(),
//	})
//	agentPath, err := discoverer.Discover(ctx)
//
// Discovery searches in the following order:
//  1. Explicit path in Config.AgentPath (if provided)
//  2. System PATH
//  3. Common installation directories (/usr/local/bin, /usr/bin, ~/.local/bin)
//
// The version reported by --version is compared against MinimumVersion and a
// warning is logged when it is older. The probe can be skipped with
// Config.SkipVersionCheck or CODEX_RELAY_SKIP_VERSION_CHECK.
//
// # Command Building
//
//	args := cli.BuildArgs(options)
//	env := cli.BuildEnvironment(options)
package cli
