package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/opsdesk/opsdesk/api"
	"github.com/opsdesk/opsdesk/internal/app"
	"github.com/opsdesk/opsdesk/internal/metrics"
	"github.com/opsdesk/opsdesk/internal/ruledef/git"
	"github.com/opsdesk/opsdesk/internal/scheduler"
	"github.com/opsdesk/opsdesk/internal/tracing"
	"github.com/opsdesk/opsdesk/internal/worker"
	"github.com/opsdesk/opsdesk/pkg/db"
	"github.com/opsdesk/opsdesk/pkg/env"
	"github.com/opsdesk/opsdesk/pkg/log"
	"github.com/spf13/cobra"
)

const (
	usage   = "start"
	short   = "Start an opsdesk automation instance"
	long    = "This command starts the opsdesk API, the execution worker and the periodic jobs"
	example = "opsdesk start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "serve", "begin"},
		Example:    example,
		RunE:       start,
	}
)

func start(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("gracefully shutting down", "signal", s.String())
				cancel()
			}
		}
	}()
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	vars := env.Variables()
	metrics.Register()

	log.Info("migrating database")
	if err := db.Migrate(); err != nil {
		log.Fatal("database migration failure", "error", err)
	}

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:  vars.TracingEnabled,
		Endpoint: vars.TracingEndpoint,
		Insecure: vars.TracingInsecure,
	})
	if err != nil {
		log.Fatal("tracing configuration failure", "error", err)
	}

	a, err := app.New(ctx, vars, db.Connection())
	if err != nil {
		log.Fatal("service configuration failure", "error", err)
	}

	gw, err := a.Gateway(ctx)
	if err != nil {
		log.Fatal("auth configuration failure", "error", err)
	}

	pool := worker.NewPool(vars.WorkerConcurrency)
	dispatcher := worker.NewDispatcher(ctx, a.Runner, pool)

	errs := make(chan error, 3)

	if watch, ok := a.GitWatch(); ok {
		go func() {
			log.Info("starting trigger definition git sync", "url", watch.Source.URL, "ref", watch.Source.Ref, "interval", watch.Interval)
			if err := git.Watch(ctx, a.Importer, watch); err != nil && ctx.Err() == nil {
				log.Error("trigger definition git sync exited", "url", watch.Source.URL, "error", err)
				errs <- err
			}
		}()
	}

	if vars.WorkerEnabled {
		w := worker.NewWorker(
			worker.NewQueueClaimer(a.Matcher, vars.QueueBatch),
			pool,
			vars.WorkerPollInterval,
			worker.RunnerExecutor(a.Runner),
		)
		go func() {
			log.Info("launching execution worker", "concurrency", pool.Size())
			errs <- w.Run(ctx)
		}()
	}

	sched := scheduler.New(a.Location)
	for _, job := range a.Jobs() {
		if err := sched.Add(job); err != nil {
			log.Fatal("scheduler configuration failure", "error", err)
		}
	}
	sched.Start(ctx)

	go func() {
		log.Info("spinning up api")
		cfg := api.Config{Port: vars.Port, Redis: a.Redis}
		errs <- api.Start(ctx, cfg, api.New(cfg, a.Deps(gw, dispatcher)))
	}()

	select {
	case err = <-errs:
		cancel()
	case <-ctx.Done():
	}

	shutdown(a, dispatcher, shutdownTracing)
	return err
}

func shutdown(a *app.App, dispatcher *worker.Dispatcher, shutdownTracing func(context.Context) error) {
	dispatcher.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(ctx); err != nil {
		log.Error("tracing shutdown failure", "error", err)
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Error("redis shutdown failure", "error", err)
		}
	}
}
