package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "voiceloop",
	Short:         "Hands-free voice loop: listen, transcribe, ask a model, speak the answer",
	Version:       GetVersion(),
	SilenceUsage:  true,  // Don't print usage on error
	SilenceErrors: false, // Do print errors
	Long: `voiceloop listens on the default microphone, cuts the stream into
utterances by loudness and silence, transcribes each utterance, sends the
text to a language model and speaks the reply. Capture is paused while a
reply is being produced so the engine never answers itself.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// a missing .env is fine
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}

// setupVersion configures the version display
func setupVersion() {
	rootCmd.SetVersionTemplate(GetVersionInfo() + "\n")
}

func Execute() {
	setupVersion()
	if err := rootCmd.Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

func main() {
	Execute()
}
