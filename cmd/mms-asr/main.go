package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gaspardpetit/mms-asr/internal/asr"
	"github.com/gaspardpetit/mms-asr/internal/audio"
	"github.com/gaspardpetit/mms-asr/internal/config"
	"github.com/gaspardpetit/mms-asr/internal/inflight"
	"github.com/gaspardpetit/mms-asr/internal/logx"
	"github.com/gaspardpetit/mms-asr/internal/metrics"
	"github.com/gaspardpetit/mms-asr/internal/server"
	"github.com/gaspardpetit/mms-asr/internal/serverstate"
	"github.com/gaspardpetit/mms-asr/internal/transcribe"
)

// shutdownGrace bounds each shutdown phase: letting requests finish, then
// waiting for cancelled jobs to clean up.
const shutdownGrace = 10 * time.Second

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

// argValue returns the value of --name or --name=value from args.
func argValue(args []string, name string) (string, bool) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if (a == "--"+name || a == "-"+name) && i+1 < len(args) {
			return args[i+1], true
		}
		for _, p := range []string{"--" + name + "=", "-" + name + "="} {
			if strings.HasPrefix(a, p) {
				return strings.TrimPrefix(a, p), true
			}
		}
	}
	return "", false
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.ServiceConfig
	// Resolve config with precedence: defaults < file < env < args
	cfg.SetDefaults()
	if v, ok := argValue(os.Args[1:], "env-file"); ok {
		cfg.EnvFile = v
	}
	if err := cfg.LoadDotEnv(); err != nil {
		logx.Log.Fatal().Err(err).Str("path", cfg.EnvFile).Msg("load env file")
	}
	cfg.ApplyEnv() // allows CONFIG_FILE from env
	if v, ok := argValue(os.Args[1:], "config"); ok {
		cfg.ConfigFile = v
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent()
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "mms-asr version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("mms-asr version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	logx.Configure(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logx.Log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.Docs.Version == "" {
		cfg.Docs.Version = version
	}

	preg := prometheus.NewRegistry()
	preg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(preg)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	var store serverstate.Store
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rs, err := serverstate.NewRedisStore(ctx, cfg.RedisAddr, serverstate.DefaultRedisKey)
		cancel()
		if err != nil {
			logx.Log.Fatal().Err(err).Str("addr", config.MaskURL(cfg.RedisAddr)).Msg("connect redis")
		}
		defer rs.Close()
		store = rs
		logx.Log.Info().Str("addr", config.MaskURL(cfg.RedisAddr)).Msg("using redis state store")
	}
	state := serverstate.New(store)
	jobs := &inflight.Tracker{}

	var enc audio.Encoder = audio.FFmpegEncoder{Path: cfg.Audio.FFmpegPath}
	stager := audio.NewStager(enc, cfg.Audio.TempDir)
	dispatcher := transcribe.NewDispatcher(transcribe.Options{
		Command: cfg.Transcriber.Command,
		Model:   cfg.Transcriber.Model,
		WorkDir: cfg.Transcriber.WorkDir,
		Timeout: cfg.Transcriber.Timeout,
	})
	svc := asr.NewService(stager, dispatcher, cfg.Engine, cfg.Audio.SampleRate)

	handler := server.New(cfg, server.Deps{
		Service:  svc,
		State:    state,
		Jobs:     jobs,
		Registry: preg,
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler, ReadHeaderTimeout: 30 * time.Second}
	var metricsSrv *http.Server
	if !cfg.MetricsOnMainPort() {
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: server.MetricsHandler(preg), ReadHeaderTimeout: 10 * time.Second}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if state.IsDraining() || cfg.DrainTimeout == 0 {
				logx.Log.Warn().Msg("termination requested")
				cancel()
				return
			}
			state.StartDrain()
			logx.Log.Info().Int("inflight_jobs", jobs.Count()).Dur("timeout", cfg.DrainTimeout).Msg("draining; send SIGTERM again to terminate immediately")
			waitCtx := ctx
			var stop context.CancelFunc
			if cfg.DrainTimeout > 0 {
				waitCtx, stop = context.WithTimeout(ctx, cfg.DrainTimeout)
			}
			go func(stop context.CancelFunc, waitCtx context.Context) {
				if stop != nil {
					defer stop()
				}
				if jobs.Wait(waitCtx) {
					logx.Log.Info().Msg("drain complete; terminating")
					cancel()
					return
				}
				if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
					logx.Log.Warn().Int("inflight_jobs", jobs.Count()).Msg("drain timeout exceeded; terminating")
					cancel()
				}
			}(stop, waitCtx)
		}
	}()

	if cfg.APIKey != "" {
		logx.Log.Info().Str("api_key", config.MaskSecret(cfg.APIKey)).Msg("API key auth enabled")
	}
	state.MarkReady()
	logx.Log.Info().Int("port", cfg.Port).Str("base_url", cfg.BaseURL).Str("engine", cfg.Engine).Strs("languages", cfg.Languages).Msg("server starting")
	metricsDone := make(chan struct{})
	if metricsSrv != nil {
		mln, err := net.Listen("tcp", metricsSrv.Addr)
		if err != nil {
			logx.Log.Fatal().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics listen")
		}
		go func() {
			defer close(metricsDone)
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := server.Serve(ctx, metricsSrv, mln, nil, shutdownGrace); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	} else {
		close(metricsDone)
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		logx.Log.Fatal().Err(err).Int("port", cfg.Port).Msg("listen")
	}
	if err := server.Serve(ctx, srv, ln, jobs, shutdownGrace); err != nil {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
	cancel()
	<-metricsDone
	logx.Log.Info().Msg("server stopped")
}
