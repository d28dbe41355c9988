// Command negotiation-watch follows one conversation from a terminal. It
// merges the change feed and the push relay exactly like a chat client would
// and prints one JSON line per new message, read receipt or typing change.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"negotiation-chat/internal/changefeed"
	"negotiation-chat/internal/config"
	"negotiation-chat/internal/domain"
	"negotiation-chat/internal/integrations/paramstore"
	"negotiation-chat/internal/logger"
	"negotiation-chat/internal/metrics"
	"negotiation-chat/internal/relay"
	"negotiation-chat/internal/repository"
	"negotiation-chat/internal/usecase"
)

var watchFlags struct {
	conversation string
	user         string
	metricsAddr  string
}

func main() {
	app := &cli.App{
		Name:  "negotiation-watch",
		Usage: "follow a negotiation conversation as JSON lines",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "conversation",
				Usage:       "conversation id to follow",
				Required:    true,
				Destination: &watchFlags.conversation,
			},
			&cli.StringFlag{
				Name:        "user",
				Usage:       "viewer user id; its own typing flag is hidden",
				Destination: &watchFlags.user,
			},
			&cli.StringFlag{
				Name:        "metrics-addr",
				Usage:       "serve Prometheus metrics on this address, e.g. :9102",
				EnvVars:     []string{"WATCH_METRICS_ADDR"},
				Destination: &watchFlags.metricsAddr,
			},
		},
		Action: runWatch,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type line struct {
	Kind    string               `json:"kind"`
	Message *domain.Message      `json:"message,omitempty"`
	Typing  *domain.TypingStatus `json:"typing,omitempty"`
}

func runWatch(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.LogFormat = logger.FormatConsole
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return err
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.ChatTable)
	if err != nil {
		return err
	}
	redisURL, err := paramstore.RedisURL(ctx, ssmClient, cfg.ParamPrefix)
	if err != nil {
		return err
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	feed, err := changefeed.NewRedisFeed(rdb, log)
	if err != nil {
		return err
	}
	relaySub, err := relay.NewRedis(rdb, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if watchFlags.metricsAddr != "" {
		srv := serveMetrics(watchFlags.metricsAddr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	messages, err := usecase.NewMessageService(store, nil, feed, relaySub, log, m, usecase.WithProvisionalWindow(cfg.ProvisionalWindow))
	if err != nil {
		return err
	}
	typing, err := usecase.NewTypingService(store, feed, log)
	if err != nil {
		return err
	}

	out := newPrinter(os.Stdout)
	msgSub, err := messages.Subscribe(ctx, watchFlags.conversation, out.timeline)
	if err != nil {
		return err
	}
	defer msgSub.Close()

	typingSub, err := typing.SubscribeTyping(ctx, watchFlags.conversation, watchFlags.user, out.typing)
	if err != nil {
		return err
	}
	defer typingSub.Close()

	log.Info().Str("conversation_id", watchFlags.conversation).Msg("watching; interrupt to stop")
	<-ctx.Done()
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	return srv
}
