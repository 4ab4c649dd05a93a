package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/peterje/rootrepl/internal/backend"
	"github.com/peterje/rootrepl/internal/preflight"
	"github.com/peterje/rootrepl/internal/repl"
	"github.com/peterje/rootrepl/internal/server"
	"github.com/peterje/rootrepl/internal/style"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: GroupService,
	Short:   "Serve the HTTP and websocket API",
	Long: `Serve an HTTP API for editor plugins: start and stop sessions, send and
evaluate code, read output and history. PTY sessions can also be streamed
over a websocket at /ws/session/{name}.

PTY sessions are hosted by the shepherd, so they outlive the server. If the
shepherd cannot be reached they are hosted in this process instead.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Address to bind")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := newEnv(envOptions{all: true, inProcess: true})
	if err != nil {
		return err
	}
	defer e.Close()

	w := cmd.OutOrStdout()
	tools, ok := preflight.CheckAll(e.cfg.Executable, true)
	preflight.Report(w, tools)
	if !ok {
		style.Warn(w, "some tools are missing; sessions on those backends will fail to start")
	}

	repls := make([]*repl.REPL, 0, len(e.repls))
	for _, id := range e.registry.IDs() {
		repls = append(repls, e.repls[id])
	}
	opts := server.Options{
		REPLs:   repls,
		Default: backend.ID(e.cfg.Backend),
		PTY:     e.pty,
		Tools:   tools,
		Log:     e.log,
	}
	if e.history != nil {
		opts.History = e.history
	}
	srv := server.New(opts)

	port := e.cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	addr := fmt.Sprintf("%s:%d", serveHost, port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	style.Check(w, "serving on %s", style.Title.Render("http://"+addr))
	e.log.Info("server started", "addr", addr, "backend", e.cfg.Backend)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		// PTY sessions stay with the shepherd; only in-process ones end here.
		e.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if e.shepherd == nil && e.pty != nil {
			e.pty.StopAll()
		}
	}
	fmt.Fprintln(os.Stderr, style.Dim.Render("server stopped"))
	return nil
}
