package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	triggerKafka  = "kafka"
	triggerHTTP   = "http"
	triggerLambda = "lambda"
)

func newRootCommand() *cobra.Command {
	var triggerFlag string

	rootCmd := &cobra.Command{
		Use:           "vodpipeline",
		Short:         "Video-on-demand ingest pipeline stages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd == cmd.Root() {
				return nil
			}
			return validateTrigger(triggerFlag)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&triggerFlag, "trigger", triggerKafka, "Event source: kafka, http or lambda")

	for _, s := range stages() {
		rootCmd.AddCommand(newStageCommand(s, &triggerFlag))
	}
	return rootCmd
}

func validateTrigger(name string) error {
	switch name {
	case triggerKafka, triggerHTTP, triggerLambda:
		return nil
	default:
		return fmt.Errorf("unknown trigger %q (want kafka, http or lambda)", name)
	}
}

func newStageCommand(s stage, triggerFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   s.name,
		Short: s.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, s.name)
			if err != nil {
				return err
			}
			defer rt.close()

			handler, err := s.build(ctx, rt)
			if err != nil {
				rt.logger.Error("stage refused to start", zap.Error(err))
				return err
			}
			return rt.serve(ctx, *triggerFlag, handler, s.topic(rt.cfg.Kafka))
		},
	}
}
