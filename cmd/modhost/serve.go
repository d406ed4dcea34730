// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/invowk/modhost/internal/host"
	"github.com/invowk/modhost/internal/watch"
	"github.com/invowk/modhost/pkg/moddef"
	"github.com/invowk/modhost/pkg/modsys"
)

const shutdownTimeout = 5 * time.Second

type serveFlagValues struct {
	metricsAddr string
	noWatch     bool
}

// newServeCommand creates the `modhost serve` command.
func newServeCommand(app *App, rootFlags *rootFlagValues) *cobra.Command {
	flags := &serveFlagValues{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the configured roots resolved",
		Long: `Resolve the configured roots and keep them resolved until interrupted.

Engine metrics are served on /metrics and root health on /healthz. Unless
watching is disabled, a change under a repository directory reloads it:
instances of changed releasable modules are released together with their
importers, and the affected roots resolve again. Changed modules that are
not releasable keep running until the next restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.startSession(cmd, rootFlags)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), s, flags)
		},
	}

	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "metrics and health listen address (default is serve.metrics_bind_address)")
	cmd.Flags().BoolVar(&flags.noWatch, "no-watch", false, "do not watch the repository directories")

	return cmd
}

func runServe(ctx context.Context, s *session, flags *serveFlagValues) error {
	roots, err := s.roots(nil)
	if err != nil {
		return s.fail(err)
	}
	repos, err := s.openRepositories(ctx)
	if err != nil {
		return s.fail(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := s.newEngine(ctx, modsys.WithRegisterer(reg))
	if err != nil {
		return s.fail(err)
	}
	defer engine.Close()

	h := host.New(engine, repos, roots, s.logger)
	statuses, err := h.ResolveAll(ctx)
	if err != nil {
		return err
	}
	printStatuses(s.app.stdout, statuses)

	addr := flags.metricsAddr
	if addr == "" {
		addr = s.cfg.Serve.MetricsBindAddress
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return s.fail(fmt.Errorf("listen on %s: %w", addr, err))
	}
	srv := &http.Server{
		Handler:           newServeMux(reg, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
	fmt.Fprintf(s.app.stdout, "\n%s Serving metrics on http://%s/metrics\n", ModuleStyle.Render("→"), ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve metrics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if s.cfg.Serve.Watch && !flags.noWatch {
		w, err := watch.New(watch.Config{
			Roots:    repos.Paths(),
			Patterns: []string{"*" + moddef.ModuleSuffix + "/**"},
			Debounce: s.cfg.Serve.Debounce,
			OnChange: func(ctx context.Context, changes watch.Changes) error {
				fmt.Fprintf(s.app.stdout, "%s Detected %d change(s) in %d repositories\n", ModuleStyle.Render("→"), changes.Len(), len(changes))
				statuses, err := h.Apply(ctx, changes)
				printStatuses(s.app.stdout, statuses)
				return err
			},
			Logger: s.logger.WithPrefix("watch"),
		})
		if err != nil {
			_ = srv.Close()
			return s.fail(fmt.Errorf("failed to start watcher: %w", err))
		}
		fmt.Fprintf(s.app.stdout, "%s Watching %d repositories for changes (Ctrl+C to stop)...\n", ModuleStyle.Render("→"), len(repos.Paths()))
		g.Go(func() error { return w.Run(gctx) })
	}

	return g.Wait()
}

// newServeMux serves the registry on /metrics and root health on /healthz.
func newServeMux(reg *prometheus.Registry, h *host.Host) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !h.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		for _, st := range h.Status() {
			state := "unresolved"
			if st.Module != nil {
				state = st.Module.Instance().State().String()
			}
			fmt.Fprintf(w, "%s %s\n", st.Root.Spec, state)
		}
	})
	return mux
}
