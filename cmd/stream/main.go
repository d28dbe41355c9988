package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"negotiation-chat/handler"
	"negotiation-chat/internal/changefeed"
	"negotiation-chat/internal/config"
	"negotiation-chat/internal/integrations/paramstore"
	"negotiation-chat/internal/logger"
	"negotiation-chat/internal/metrics"
)

// The stream Lambda turns DynamoDB stream records of the chat table into
// change feed events on Redis.
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load AWS config")
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create SSM client")
	}

	redisURL, err := paramstore.RedisURL(ctx, ssmClient, cfg.ParamPrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid redis url")
	}
	rdb := redis.NewClient(opts)

	feed, err := changefeed.NewRedisFeed(rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create change feed")
	}
	fwd, err := changefeed.NewForwarder(feed, log, metrics.New(prometheus.DefaultRegisterer))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create stream forwarder")
	}
	h, err := handler.NewStreamHandler(fwd)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create stream handler")
	}

	lambda.Start(h.Handle)
}
