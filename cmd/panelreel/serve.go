package main

import (
	"github.com/keagan/panelreel/internal/config"
	"github.com/keagan/panelreel/internal/logging"
	"github.com/keagan/panelreel/internal/queue"
	"github.com/keagan/panelreel/internal/server"
	"github.com/keagan/panelreel/internal/storage"
	"github.com/keagan/panelreel/internal/video"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the render API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		addr := pick(serveAddr, cfg.Server.Addr)
		var renderer server.Renderer
		rt, err := video.Acquire(log.Logger, runtimeOptions(cfg))
		if err != nil {
			// planning still works without an encoder
			log.Warn().Err(err).Msg("encoder unavailable, render endpoint disabled")
		} else {
			renderer = rt
		}

		srv := server.New(log.Logger, server.Config{
			Addr:        addr,
			MaxUploadMB: cfg.Server.MaxUploadMB,
			Settings:    cfg.Video.Settings(),
			Encoding:    encoding(cfg),
		}, renderer)
		return srv.ListenAndServe(cmd.Context())
	},
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Render jobs from the Kafka topic, reading and writing S3",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		store, err := storage.NewS3(ctx, log.Logger, cfg.Storage)
		if err != nil {
			return err
		}
		rt, err := video.Acquire(log.Logger, runtimeOptions(cfg))
		if err != nil {
			return err
		}

		worker := queue.NewWorker(log.Logger, store, rt, cfg.Video.Settings(), encoding(cfg))
		consumer, err := queue.NewConsumer(log.Logger, queue.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
			Handler: worker,
		})
		if err != nil {
			return err
		}
		defer consumer.Close()

		if err := consumer.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		logger := logging.WithComponent("consume")
		logger.Info().Msg("shutting down consumer")
		return nil
	},
}
