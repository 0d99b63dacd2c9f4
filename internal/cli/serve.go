// internal/cli/serve.go
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cmux-cli/cdpscript/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve validation, execution and generation over HTTP.

Endpoints:
  GET  /health      Liveness check
  GET  /commands    Supported CDP methods
  POST /validate    Validate a script (body: script JSON)
  POST /run         Validate and run a script (?policy=stop|skip|continue)
  POST /generate    Generate and run a script (body: {"prompt": "..."})
  POST /inference   Alias of /generate
  GET  /ws/run      Run a script over a websocket, streaming each step
  GET  /metrics     Prometheus metrics

All runs share one browser session and are executed one at a time.

Examples:
  cdpscript serve
  cdpscript serve --addr 0.0.0.0:9669 --cdp-url http://chrome:9222`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		addr := cfg.Server.Addr
		if a, _ := cmd.Flags().GetString("addr"); a != "" {
			addr = a
		}

		policy, err := resolvePolicy(cmd)
		if err != nil {
			return err
		}

		session, closeSession := newSession(browserOptions(cmd, logger))
		defer closeSession()

		var gen server.Generator
		if noGen, _ := cmd.Flags().GetBool("no-generate"); !noGen {
			gen = newScriptGenerator(cmd)
		}

		srv := server.New(server.Config{
			Addr:           addr,
			Policy:         policy,
			CommandTimeout: resolveCommandTimeout(cmd),
			OutputDir:      resolveOutputDir(cmd),
			Logger:         logger,
		}, reg, session, gen)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !flagJSON {
			fmt.Fprintf(os.Stderr, "Serving on http://%s\n", addr)
		}
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
	serveCmd.Flags().Bool("no-generate", false, "Disable /generate and /inference")
	addRunFlags(serveCmd)
	addBrowserFlags(serveCmd)
}
