package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/keagan/panelreel/internal/ai"
	"github.com/keagan/panelreel/internal/clips"
	"github.com/keagan/panelreel/internal/config"
	"github.com/keagan/panelreel/internal/logging"
	"github.com/keagan/panelreel/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "panelreel",
	Short: "panelreel - turn comic panels into narrated videos",
	Long:  "Compiles comic panels, narration and panel timings into an MP4, with optional AI script, voice and panel editing.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		// Long-running services log JSON when configured to
		structured := cfg.Server.StructuredLog && (cmd.Name() == "serve" || cmd.Name() == "consume")
		logging.Init(verbose, structured)

		// Store config in context
		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(listCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSaveCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save [path]",
	Short: "Write the effective configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.FromContext(cmd.Context()).Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("config saved")
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:       "list [presets|voices|transitions|renders]",
	Short:     "List available resources",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"presets", "voices", "transitions", "renders"},
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "presets":
			for _, res := range clips.Resolutions() {
				for _, aspect := range clips.AspectRatios() {
					s := clips.VideoSettings{Resolution: res, AspectRatio: aspect}
					w, h, err := s.Canvas()
					if err != nil {
						return err
					}
					fmt.Printf("%-6s %-5s %dx%d\n", res, aspect, w, h)
				}
			}
		case "voices":
			for _, v := range ai.Voices {
				fmt.Println(v)
			}
		case "transitions":
			for _, t := range clips.Transitions() {
				fmt.Println(t)
			}
		case "renders":
			store, err := storage.NewS3(cmd.Context(), log.Logger, config.FromContext(cmd.Context()).Storage)
			if err != nil {
				return err
			}
			keys, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k)
			}
		default:
			return fmt.Errorf("unknown resource %q", args[0])
		}
		return nil
	},
}
