package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cochaviz/uli/internal/configurations/simple"
	"github.com/cochaviz/uli/internal/logging"
	"github.com/cochaviz/uli/internal/models"
	"github.com/cochaviz/uli/internal/setup"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	handler := &switchingHandler{}
	handler.set(logging.NewCLI(os.Stderr, &levelVar).Handler())
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar, handler)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar, handler *switchingHandler) *cobra.Command {
	setup.SetLogger(logger.With(logging.ComponentKey, "setup"))

	var (
		logLevel  = defaultLogLevel
		logFormat string
	)

	root := &cobra.Command{
		Use:           "uli",
		Short:         "Unattended installer for bare-metal Linux nodes",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "cli", "Set log format (cli, json)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		levelVar.Set(level)

		mode, err := logging.ParseMode(logFormat)
		if err != nil {
			return err
		}
		handler.set(logging.New(mode, os.Stderr, levelVar).Handler())
		return nil
	}

	root.AddCommand(
		newInstallCommand(logger),
		newPlanCommand(logger),
		newValidateCommand(logger),
		newDisksCommand(logger),
	)
	return root
}

func newInstallCommand(logger *slog.Logger) *cobra.Command {
	var opts simple.InstallOptions

	cmd := &cobra.Command{
		Use:   "install",
		Args:  cobra.NoArgs,
		Short: "Fetch this node's configuration and install it, destroying the data on its disks",
		RunE: func(cmd *cobra.Command, args []string) error {
			// An interrupted run aborts with an error wrapping context.Canceled.
			return simple.Install(cmd.Context(), opts, logger.With("command", "install"))
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Read the configuration from a local file or directory instead of the backend")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "Provisioning backend host (default: the default gateway)")
	cmd.Flags().StringVar(&opts.Root, "root", setup.InstallRoot, "Directory the new system is assembled under")
	cmd.Flags().StringVar(&opts.Interface, "interface", setup.BootInterface, "Interface whose MAC address identifies this node")
	cmd.Flags().StringVar(&opts.ImageSource, "image-source", setup.ImageSourceMode, "Source of bare image paths (ssh, share, file, iso)")
	cmd.Flags().StringVar(&opts.ShareDir, "share-dir", setup.ShareDir, "Mounted directory share images are read from")
	cmd.Flags().StringVar(&opts.ImageDir, "image-dir", setup.ImageDir, "Directory listed when selecting an image interactively")
	cmd.Flags().StringVar(&opts.ISO, "iso", "", "ISO9660 image whose image directory is offered for interactive selection")
	cmd.Flags().StringVar(&opts.SSHUser, "ssh-user", setup.SSHUser, "User for ssh image transfers")

	return cmd
}

func newPlanCommand(logger *slog.Logger) *cobra.Command {
	var (
		configPath string
		root       string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Args:  cobra.NoArgs,
		Short: "Print the device commands an install would run, without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			plan, commands, err := simple.Plan(configPath, root)
			if err != nil {
				printViolations(cmd, err)
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# layout %s on %d disks\n", plan.Layout, len(plan.Disks))
			for _, command := range commands {
				fmt.Fprintln(out, command.String())
			}
			logger.Debug("planned install", "command", "plan", "commands", len(commands))
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Configuration document to plan")
	cmd.Flags().StringVar(&root, "root", setup.InstallRoot, "Directory the new system would be assembled under")

	return cmd
}

func newValidateCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config.yaml>",
		Args:  cobra.ExactArgs(1),
		Short: "Parse and validate a configuration document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := simple.Validate(args[0])
			if err != nil {
				printViolations(cmd, err)
				return err
			}
			logger.Info("configuration valid", "command", "validate", "hostname", cfg.Global.FQDN(), "layout", string(cfg.DiskMgmt.Layout()))
			return nil
		},
	}
}

func newDisksCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "disks",
		Args:  cobra.NoArgs,
		Short: "List the disks visible to this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			disks, err := simple.Disks(cmd.Context(), nil, logger.With("command", "disks"))
			if err != nil {
				return err
			}
			for _, disk := range disks {
				fmt.Fprintln(cmd.OutOrStdout(), disk)
			}
			return nil
		},
	}
}

func printViolations(cmd *cobra.Command, err error) {
	var verr *models.ConfigValidationError
	if !errors.As(err, &verr) {
		return
	}
	for _, message := range verr.Messages() {
		fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", message)
	}
}
