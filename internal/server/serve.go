package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gaspardpetit/mms-asr/internal/inflight"
	"github.com/gaspardpetit/mms-asr/internal/logx"
)

// Serve runs srv on ln until ctx is done. Shutdown gets grace to let requests
// finish; requests still running after that are cancelled, which kills their
// encoder and transcriber processes, and Serve waits up to grace again for
// jobs to finish their cleanup. Serve returns only after that wait.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, jobs *inflight.Tracker, grace time.Duration) error {
	reqCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	srv.BaseContext = func(net.Listener) context.Context { return reqCtx }

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, stop := context.WithTimeout(context.Background(), grace)
	defer stop()
	if err := srv.Shutdown(sctx); err != nil {
		n := 0
		if jobs != nil {
			n = jobs.Count()
		}
		logx.Log.Warn().Err(err).Int("inflight_jobs", n).Msg("shutdown grace exceeded; cancelling running jobs")
	}
	cancelRequests()
	if jobs != nil {
		wctx, wstop := context.WithTimeout(context.Background(), grace)
		defer wstop()
		if !jobs.Wait(wctx) {
			logx.Log.Error().Int("inflight_jobs", jobs.Count()).Msg("jobs still running at exit")
		}
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
