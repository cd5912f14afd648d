package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frogdesign/akart/internal/api"
	"github.com/frogdesign/akart/internal/config"
	"github.com/frogdesign/akart/internal/display"
	"github.com/frogdesign/akart/internal/logger"
	"github.com/frogdesign/akart/internal/output"
	"github.com/frogdesign/akart/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a driving session",
	Long: `Connect to the configured car, start the frame pipeline and serve the
driving page, the camera stream and the REST API.

The session ends on Ctrl+C or when the car link drops.`,
	Example: `  # Drive on the default port (8080)
  akart serve

  # Serve on a custom port
  akart serve --port 9090

  # Use a specific config file
  akart serve --config /path/to/config.yaml

  # Debug logging
  akart serve --log-level debug`,
	RunE: runServe,
}

var servePretty bool

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&servePretty, "pretty", true, "human readable console logs")
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	cfg := configMgr.Get()
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			cfg.ServerPort = port
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			cfg.LogLevel = level
		}
	}

	logger.Init(cfg.LogLevel, servePretty)
	log := logger.WithComponent("main")
	log.Info().Str("path", configMgr.GetConfigPath()).Str("log_level", cfg.LogLevel).Msg("Configuration loaded")

	outCfg := output.ConfigFromDisplay(cfg.Display)
	var (
		outputs []output.Output
		stream  *output.MJPEGOutput
	)
	switch cfg.Display.Kind {
	case "", "mjpeg":
		stream = output.NewMJPEGOutput(outCfg)
		outputs = append(outputs, stream)
	case "x11":
		win, err := display.NewWindow(outCfg, "a-kart - "+cfg.Vehicle.Name)
		if err != nil {
			return fmt.Errorf("failed to open preview window: %w", err)
		}
		outputs = append(outputs, win)
	default:
		return fmt.Errorf("unknown display kind: %s", cfg.Display.Kind)
	}
	for _, o := range outputs {
		if err := o.Start(); err != nil {
			return fmt.Errorf("failed to start %s: %w", o.Name(), err)
		}
		defer o.Stop()
	}

	sess, err := session.New(cfg, session.Options{Outputs: outputs})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.Stop()

	server := api.NewServer(sess, configMgr, stream)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Str("web_ui", fmt.Sprintf("http://localhost:%d", cfg.ServerPort)).
		Str("vehicle", cfg.Vehicle.Name).
		Msg("a-kart is running, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case <-sess.Done():
		log.Warn().Msg("Session ended")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
