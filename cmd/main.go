package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"

	"relay-agent/handler"
	"relay-agent/internal/integrations/openrouter"
	"relay-agent/internal/integrations/telegram"
	"relay-agent/internal/repository"
	"relay-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	_ = godotenv.Load()

	telegramToken := mustEnv("TELEGRAM_BOT_TOKEN")
	openrouterKey := mustEnv("OPENROUTER_API_KEY")
	openrouterBase := envOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")
	models := splitList(envOrDefault("RELAY_MODELS",
		"meta-llama/llama-3.3-70b-instruct:free,kwaipilot/kat-coder-pro:free"))

	endpoint := mustEnv("S3_ENDPOINT")
	accessKey := mustEnv("S3_ACCESS_KEY")
	secretKey := mustEnv("S3_SECRET_KEY")
	bucket := mustEnv("S3_BUCKET")
	region := envOrDefault("S3_REGION", "us-east-1")

	botName := envOrDefault("RELAY_BOT_NAME", "Relay v1")
	ownerName := envOrDefault("RELAY_OWNER_NAME", "@relayowner")

	// ---- AWS SDK config (S3-compatible endpoint, static credentials) ----
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	s3Client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	objectStore, err := repository.NewObjectStore(s3Client, awss3.NewPresignClient(s3Client), bucket)
	if err != nil {
		slog.Error("failed to create object store", "err", err)
		os.Exit(1)
	}

	memoryStore, err := repository.NewMemoryStore(objectStore)
	if err != nil {
		slog.Error("failed to create memory store", "err", err)
		os.Exit(1)
	}

	llmClient, err := openrouter.NewClient(openrouterKey, openrouter.WithBaseURL(openrouterBase))
	if err != nil {
		slog.Error("failed to create completion client", "err", err)
		os.Exit(1)
	}

	tgClient, err := telegram.NewClient(telegramToken)
	if err != nil {
		slog.Error("failed to create telegram client", "err", err)
		os.Exit(1)
	}

	// ---- Services ----
	engine, err := usecase.NewEngine(llmClient, models)
	if err != nil {
		slog.Error("failed to create completion engine", "err", err)
		os.Exit(1)
	}

	formatter, err := usecase.NewFormatter(tgClient)
	if err != nil {
		slog.Error("failed to create delivery formatter", "err", err)
		os.Exit(1)
	}

	chatService, err := usecase.NewChatService(memoryStore, engine, formatter, usecase.Persona{
		BotName: botName,
		Owner:   ownerName,
	})
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	uploader, err := usecase.NewUploader(tgClient, objectStore)
	if err != nil {
		slog.Error("failed to create uploader", "err", err)
		os.Exit(1)
	}

	bot, err := handler.NewBot(tgClient, chatService, uploader, objectStore, botName)
	if err != nil {
		slog.Error("failed to create bot", "err", err)
		os.Exit(1)
	}

	// Bucket bootstrap is best-effort; a storage outage must not keep the
	// bot from starting.
	if err := objectStore.EnsureBucket(ctx); err != nil {
		slog.Warn("bucket bootstrap failed, continuing", "bucket", bucket, "err", err)
	} else {
		slog.Info("storage connected", "bucket", bucket)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("bot is polling", "name", botName, "models", models)
	if err := bot.Run(runCtx); err != nil {
		slog.Error("run loop failed", "err", err)
		os.Exit(1)
	}
	slog.Info("bot stopped")
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
