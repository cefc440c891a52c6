package main

import (
	"context"
	"fmt"
	"time"

	"github.com/realtime-ai/voiceloop/pkg/config"
	"github.com/realtime-ai/voiceloop/pkg/llm"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the selectable models and check their availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		gen := newGenerator(cfg.Inference)
		current := cfg.InferenceModel()

		for _, m := range llm.Models() {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			err := gen.Ping(ctx, m)
			cancel()

			mark := " "
			if m == current {
				mark = "*"
			}
			state := "ok"
			if err != nil {
				state = "unavailable: " + err.Error()
			}
			fmt.Printf("%s %-14s %-24s %s\n", mark, m, m.DisplayName(), state)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
