package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"negotiation-chat/handler"
	"negotiation-chat/internal/changefeed"
	"negotiation-chat/internal/config"
	"negotiation-chat/internal/integrations/blobstore"
	"negotiation-chat/internal/integrations/paramstore"
	"negotiation-chat/internal/integrations/relayhttp"
	"negotiation-chat/internal/logger"
	"negotiation-chat/internal/metrics"
	"negotiation-chat/internal/relay"
	"negotiation-chat/internal/repository"
	"negotiation-chat/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
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

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load AWS config")
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create SSM client")
	}
	dynamoClient := awsdynamodb.NewFromConfig(awsCfg)
	store, err := repository.New(dynamoClient, cfg.ChatTable, repository.WithMarkReadConcurrency(cfg.MarkReadConcurrency))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create chat store")
	}
	var catalog usecase.ProductCatalog
	if cfg.ProductsTable != "" {
		c, err := repository.NewCatalog(dynamoClient, cfg.ProductsTable)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create product catalog")
		}
		catalog = c
	}
	attachments, err := blobstore.New(awss3.NewFromConfig(awsCfg), cfg.AttachmentBucket, cfg.AttachmentPublicBaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create attachment store")
	}

	// ---- Push relay and change feed ----
	var (
		pub  relay.Publisher
		sub  relay.Subscriber
		feed changefeed.Feed = changefeed.NewHub()
	)
	switch cfg.RelayBackend {
	case config.RelayRedis:
		rdb, err := connectRedis(ctx, ssmClient, cfg.ParamPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		r, err := relay.NewRedis(rdb, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create redis relay")
		}
		redisFeed, err := changefeed.NewRedisFeed(rdb, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create redis change feed")
		}
		pub, sub, feed = r, r, redisFeed
	case config.RelayHTTP:
		c, err := relayhttp.NewClient(cfg.RelayHTTPURL, ssmClient, cfg.ParamPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create relay http client")
		}
		pub = c
	case config.RelayNone:
		log.Warn().Msg("push relay disabled; clients rely on the change feed only")
	}

	// ---- Use cases ----
	m := metrics.New(prometheus.DefaultRegisterer)
	bridge := usecase.NewBridge(pub, log, m)

	conversations, err := usecase.NewConversationService(store, bridge, log, m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create conversation service")
	}
	messages, err := usecase.NewMessageService(store, bridge, feed, sub, log, m, usecase.WithProvisionalWindow(cfg.ProvisionalWindow))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create message service")
	}
	typing, err := usecase.NewTypingService(store, feed, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create typing service")
	}
	quotes, err := usecase.NewQuoteService(store, catalog, messages, bridge, cfg.PaymentBaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create quote service")
	}

	// ---- Handler ----
	h, err := handler.NewHandler(handler.Services{
		Conversations: conversations,
		Messages:      messages,
		Typing:        typing,
		Quotes:        quotes,
		Attachments:   attachments,
	}, log, handler.WithMaxAttachmentBytes(cfg.AttachmentMaxBytes))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create handler")
	}

	lambda.Start(h.Handle)
}

func connectRedis(ctx context.Context, ps paramstore.Getter, prefix string) (*redis.Client, error) {
	url, err := paramstore.RedisURL(ctx, ps, prefix)
	if err != nil {
		return nil, err
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
