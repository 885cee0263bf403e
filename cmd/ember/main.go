// Command ember runs an interactive agent session on stdin/stdout.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/emberhq/ember/pkg/agent"
	"github.com/emberhq/ember/pkg/config"
	"github.com/emberhq/ember/pkg/observability"
)

var (
	configPath   = flag.String("config", "ember.yaml", "configuration file path")
	logLevel     = flag.String("log-level", "info", "log level: trace, debug, info, warn, error")
	otlpEndpoint = flag.String("otlp-endpoint", "", "OTLP HTTP endpoint for traces, empty disables export")
	systemPrompt = flag.String("system-prompt", "", "path to a system prompt file")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ember:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := observability.NewLogger(observability.LogConfig{Level: *logLevel, Console: true})

	shutdown, err := observability.InitTracing(ctx, observability.TraceConfig{
		ServiceName: "ember",
		Endpoint:    *otlpEndpoint,
		Insecure:    true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	opts := []agent.Option{agent.WithLogger(log)}
	if *systemPrompt != "" {
		prompt, err := os.ReadFile(*systemPrompt)
		if err != nil {
			return fmt.Errorf("read system prompt: %w", err)
		}
		opts = append(opts, agent.WithPersona(strings.TrimSpace(string(prompt))))
	}

	ag, err := agent.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer ag.Close()

	if err := ag.Start(ctx); err != nil {
		return err
	}

	watcher, err := config.NewWatcher(*configPath,
		config.OnChange(ag.Reload),
		config.OnError(func(err error) {
			log.Warn().Err(err).Msg("config reload failed")
		}),
	)
	if err != nil {
		log.Warn().Err(err).Msg("config watching disabled")
	} else {
		defer func() { _ = watcher.Close() }()
	}

	return repl(ctx, ag)
}

func repl(ctx context.Context, ag *agent.Agent) error {
	sessionKey := uuid.NewString()
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	fmt.Println("ember ready. /new starts a fresh session, /quit exits.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit", line == "/exit":
			return nil
		case line == "/new":
			sessionKey = uuid.NewString()
			fmt.Println("started a new session")
			continue
		}

		outcome, err := ag.Run(ctx, sessionKey, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		if outcome.Err != nil {
			fmt.Fprintf(os.Stderr, "turn failed (%s): %v\n", outcome.ErrKind, outcome.Err)
		}
		if outcome.Content != "" {
			fmt.Println(outcome.Content)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
