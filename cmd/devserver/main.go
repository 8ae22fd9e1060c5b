package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Reference roomtalk backend for local development",
	RunE:  runServer,
}

var (
	flagAddr      string
	flagDataPath  string
	flagImagePath string
	flagJWTSecret string
	flagRedisURL  string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAddr, "addr", ":8080", "listen address")
	flags.StringVar(&flagDataPath, "data-path", "", "optional directory to persist message history via PebbleDB")
	flags.StringVar(&flagImagePath, "image-path", "", "directory for uploaded images (default: data-path/images or a temp dir)")
	flags.StringVar(&flagJWTSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "HMAC secret for bearer tokens (from env JWT_SECRET if set)")
	flags.StringVar(&flagRedisURL, "redis-url", os.Getenv("REDIS_URL"), "optional redis URL for cross-instance fanout (from env REDIS_URL if set)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute devserver command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secret := flagJWTSecret
	if secret == "" {
		secret = "dev-only-secret"
		log.Warn().Msg("[devserver] no --jwt-secret provided, using the built-in dev secret")
	}
	users := newUserStore([]byte(secret))

	var store *messageStore
	if flagDataPath != "" {
		s, err := openMessageStore(flagDataPath)
		if err != nil {
			log.Warn().Err(err).Msg("[devserver] open store failed; running in memory only")
		} else {
			store = s
			defer func() { _ = store.Close() }()
		}
	}

	imageDir := flagImagePath
	if imageDir == "" {
		if flagDataPath != "" {
			imageDir = flagDataPath + "/images"
		} else {
			imageDir = os.TempDir() + "/roomtalk-images"
		}
	}
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return err
	}

	hub := newRoomHub(store)

	if flagRedisURL != "" {
		fanout, err := newRedisFanout(flagRedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("[devserver] redis unavailable; running without fanout")
		} else {
			hub.attachFanout(fanout)
			go fanout.subscribe(ctx, hub.deliver)
			defer func() { _ = fanout.close() }()
		}
	}

	h := newHandler(users, hub, imageDir)
	srv := &http.Server{
		Addr:    flagAddr,
		Handler: h.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", flagAddr).Msg("[devserver] listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("[devserver] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub.closeAll()
	return srv.Shutdown(shutdownCtx)
}
