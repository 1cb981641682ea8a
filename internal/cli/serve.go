package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eshaffer321/ledger-reconciler/internal/api"
	"github.com/eshaffer321/ledger-reconciler/internal/application/service"
)

const shutdownTimeout = 30 * time.Second

// ScheduleRequest converts the schedule config into a run request.
func ScheduleRequest(rt *Runtime) (service.RunRequest, error) {
	flows, err := parseFlows(rt.Config.Schedule.Flows)
	if err != nil {
		return service.RunRequest{}, err
	}
	return service.RunRequest{
		DryRun: rt.Config.Schedule.DryRun,
		Flows:  flows,
		Stages: rt.Config.Schedule.Stages,
	}, nil
}

// RunServe runs the API server, plus the scheduler when one is
// configured, until SIGINT or SIGTERM.
func RunServe(rt *Runtime, port int) error {
	logger := rt.Logger
	svc := service.NewReconcileService(rt.Orchestrator, logger.With("component", "service"))

	var scheduler *service.Scheduler
	if spec := rt.Config.Schedule.Cron; spec != "" {
		req, err := ScheduleRequest(rt)
		if err != nil {
			return err
		}
		scheduler, err = service.NewScheduler(svc, spec, rt.Config.Schedule.Timezone, req, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	apiCfg := api.Config{Port: port, AllowedOrigins: rt.Config.API.AllowedOrigins}
	if apiCfg.Port == 0 {
		apiCfg.Port = rt.Config.API.Port
	}
	server := api.NewServer(apiCfg, rt.Store, svc, logger.With("component", "api"))

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	go func() {
		<-quit
		logger.Info("received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if scheduler != nil {
			<-scheduler.Stop().Done()
		}
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", slog.Any("error", err))
		}
		// Active runs finish their in-flight decision and record themselves.
		if err := svc.Shutdown(ctx); err != nil {
			logger.Error("reconcile jobs did not stop in time", slog.Any("error", err))
		}
		close(done)
	}()

	if err := server.Start(); err != nil {
		return err
	}

	<-done
	logger.Info("server stopped")
	return nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sig:
			logger.Warn("Interrupted; finishing the decision in flight")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sig)
		cancel()
	}
}
