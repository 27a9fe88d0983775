package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SemanticWebLanguageServer/swls-web/internal/host"
	"github.com/SemanticWebLanguageServer/swls-web/internal/logging"
	"github.com/SemanticWebLanguageServer/swls-web/internal/transport/chanio"
)

var logFile string

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Run one session over stdin and stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runStdio(ctx, os.Stdin, os.Stdout)
	},
}

func init() {
	stdioCmd.Flags().StringVar(&logFile, "log-file", "", "append logs to this file instead of stderr")
}

// runStdio treats every read from in as one inbound chunk and writes every
// outbound message to out. It returns once in is exhausted and the session
// has drained.
func runStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logging.SetSink(func(msg string) { io.WriteString(f, msg) })
		defer logging.ResetSink()
	}
	log := logging.New(cfg.Logging)

	post := func(msg []byte) error {
		_, err := out.Write(msg)
		return err
	}
	sess := host.New(ctx, post,
		host.WithLogger(log),
		host.WithLimits(cfg.Queues),
		host.WithMaxBody(cfg.Frame.MaxBody))

	// Pump blocks in Read; it is abandoned rather than waited for when the
	// session ends first.
	pumpErr := make(chan error, 1)
	go func() {
		_, err := chanio.Pump(in, sess.Send)
		sess.Close()
		pumpErr <- err
	}()

	select {
	case err := <-pumpErr:
		if err != nil {
			log.Warn().Err(err).Msg("stdin read failed")
		}
	case <-sess.Done():
	}
	if err := sess.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
