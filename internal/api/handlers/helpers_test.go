package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/ledger-reconciler/internal/application/reconcile"
	"github.com/eshaffer321/ledger-reconciler/internal/application/service"
)

// stubRunner blocks until released, then returns result.
type stubRunner struct {
	started chan struct{}
	release chan struct{}
	result  *reconcile.Result
}

func (r *stubRunner) Run(ctx context.Context, opts reconcile.Options) (*reconcile.Result, error) {
	r.started <- struct{}{}
	select {
	case <-r.release:
		res := *r.result
		res.DryRun = opts.DryRun
		return &res, nil
	case <-ctx.Done():
		return &reconcile.Result{RunID: r.result.RunID, Cancelled: true}, nil
	}
}

func newService(t *testing.T) (*service.ReconcileService, *stubRunner) {
	t.Helper()
	runner := &stubRunner{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
		result: &reconcile.Result{
			RunID:     "run-1",
			Holders:   1,
			Matched:   1,
			Committed: 1,
			Outcomes: []reconcile.Outcome{{
				Decision: reconcile.Decision{Flow: reconcile.FlowDeposit, HolderID: 1, Action: reconcile.ActionLink, PlatformID: 10, BankID: 20},
				Status:   reconcile.StatusCommitted,
			}},
			Skips: []reconcile.Skip{{HolderID: 1, Flow: reconcile.FlowDeposit, Kind: "platform", Reason: reconcile.SkipNoMatch}},
		},
	}
	svc := service.NewReconcileService(runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, runner
}

// startJob starts a job and waits until the runner is executing it.
func startJob(t *testing.T, svc *service.ReconcileService, runner *stubRunner) string {
	t.Helper()
	id, err := svc.StartRun(context.Background(), service.RunRequest{Trigger: "api"})
	require.NoError(t, err)
	<-runner.started
	return id
}

func finishJob(t *testing.T, svc *service.ReconcileService, runner *stubRunner, id string) {
	t.Helper()
	close(runner.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := svc.Wait(ctx, id)
	require.NoError(t, err)
}

// withURLParams attaches chi route params to a request.
func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func newRecorder() *httptest.ResponseRecorder { return httptest.NewRecorder() }
