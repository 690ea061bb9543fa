package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"aiquery/internal/backend"
	"aiquery/internal/cli"
	"aiquery/internal/log"
	"aiquery/internal/services"
)

var askCmd = &cobra.Command{
	Use:   "ask [request.json]",
	Short: "Answer a single conversation request from a file or stdin",
	Long: `Run one conversation request through the configured decision engine and
print the answer. The request uses the same JSON body as POST /conversation.
Reads stdin when no file is given or the file is "-".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		audioOut, _ := cmd.Flags().GetString("audio-out")

		cfg, err := cli.LoadAndValidateConfig()
		if err != nil {
			return err
		}
		logger := cli.SetupLogger(cfg, os.Stderr)

		ctx, stop := cli.SignalContext(cmd.Context())
		defer stop()
		if cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()
		}

		var body io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open request: %w", err)
			}
			defer f.Close()
			body = f
		}

		backendCfg, err := backend.FromAppConfig(cfg)
		if err != nil {
			return err
		}
		sessions, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := sessions.Cleanup(); err != nil {
				logger.Error("Failed to close session store", log.FieldError, err)
			}
		}()

		orch, err := cli.NewOrchestrator(ctx, cfg, sessions.Sessions, logger, nil)
		if err != nil {
			return err
		}
		reply, err := services.NewConversationService(orch, nil, services.WithLogger(logger)).Converse(ctx, body)
		if err != nil {
			return err
		}

		if audioOut != "" && reply.Audio != nil {
			audio, err := base64.StdEncoding.DecodeString(*reply.Audio)
			if err != nil {
				return fmt.Errorf("decode audio: %w", err)
			}
			if err := os.WriteFile(audioOut, audio, 0o644); err != nil {
				return fmt.Errorf("write audio: %w", err)
			}
			logger.Info("Wrote audio", "path", audioOut, log.FieldAudioBytes, len(audio))
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(reply)
		}
		fmt.Fprintln(out, reply.Messages)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().Bool("json", false, "Print the full reply as JSON")
	askCmd.Flags().String("audio-out", "", "Write synthesized MP3 audio to this path when present")
}
