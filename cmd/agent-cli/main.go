// Command agent-cli is an interactive chat loop over the agentrt runtime:
// pick a provider/model, optionally persist the conversation to SQLite, and
// talk to it with a small set of filesystem tools available.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/kschuler/agentrt/agent"
	"github.com/kschuler/agentrt/backend"
	_ "github.com/kschuler/agentrt/backend/claude"
	_ "github.com/kschuler/agentrt/backend/gemini"
	_ "github.com/kschuler/agentrt/backend/mockbackend"
	_ "github.com/kschuler/agentrt/backend/openai"
	"github.com/kschuler/agentrt/persistence/sqlitestore"
)

const defaultModel = "claude:claude-sonnet-4"

func main() {
	if err := run(parseFlags(), os.Stdin, os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

// config holds the application configuration.
type config struct {
	Model            string
	APIKey           string
	Temperature      float64
	MaxTokens        int
	SystemPrompt     string
	PersistenceFile  string
	CompactThreshold float64
}

func parseFlags() *config {
	return parseFlagsArgs(os.Args[1:])
}

func parseFlagsArgs(args []string) *config {
	var c config
	fs := flag.NewFlagSet("agent-cli", flag.ContinueOnError)

	fs.StringVar(&c.Model, "model", defaultModel, "model to use, as \"provider:model\" (e.g. claude:claude-sonnet-4-5, openai:gpt-5, gemini:gemini-2.5-flash, mock)")
	fs.StringVar(&c.APIKey, "api-key", "", "API key (defaults to the provider's standard environment variable)")
	fs.Float64Var(&c.Temperature, "temperature", -1, "temperature for response generation (0.0-1.0, -1 for provider default)")
	fs.IntVar(&c.MaxTokens, "max-tokens", 0, "maximum tokens in response (0 for provider default)")
	fs.StringVar(&c.SystemPrompt, "system", "You are a helpful assistant.", "system prompt")
	fs.StringVar(&c.PersistenceFile, "persist", "", "SQLite file for conversation persistence (empty for memory-only)")
	fs.Float64Var(&c.CompactThreshold, "compact", 0.8, "cumulative/context token ratio that triggers automatic compaction (0 disables)")
	_ = fs.Parse(args)

	return &c
}

// apiKeyEnvVar maps a provider name to the environment variable its SDK
// conventionally reads the API key from, since backend.Settings.APIKey is
// never populated implicitly (spec's "explicit initialization, no hidden
// env reads" design carried down into the adapters themselves).
func apiKeyEnvVar(provider string) string {
	switch provider {
	case "claude":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

func run(c *config, input io.Reader, output io.Writer, errOutput io.Writer) error {
	providerName, _ := backend.ParseModelString(c.Model)

	apiKey := c.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(apiKeyEnvVar(providerName))
	}

	settings := backend.Settings{APIKey: apiKey, MaxTokens: c.MaxTokens}
	if c.Temperature >= 0 {
		settings.Temperature = &c.Temperature
	}

	var opts []agent.Option
	opts = append(opts, agent.WithSystemPrompt(c.SystemPrompt))

	if c.PersistenceFile != "" {
		dir := filepath.Dir(c.PersistenceFile)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create persistence directory: %w", err)
			}
		}

		store, err := sqlitestore.New(c.PersistenceFile)
		if err != nil {
			return fmt.Errorf("create persistence store: %w", err)
		}
		defer store.Close()
		opts = append(opts, agent.WithStore(store))

		fmt.Fprintf(output, "Using persistent session: %s\n", c.PersistenceFile)
	}

	a, err := agent.New(c.Model, settings, opts...)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	ctx := withFSRoot(context.Background(), cwd)

	a.RegisterTool(readFileTool())
	a.RegisterTool(writeFileTool())
	a.RegisterTool(listDirTool())

	reader := bufio.NewReader(input)

	fmt.Fprintln(output, "Chat started. Type 'exit' or 'quit' to end the conversation.")
	fmt.Fprintln(output, "Type your message and press Enter twice to send (or Ctrl+D on a new line).")
	fmt.Fprintln(output, "---")

	for {
		fmt.Fprint(output, "\nYou: ")

		userInput, done, err := readMessage(reader, output)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if strings.TrimSpace(userInput) == "" {
			continue
		}

		fmt.Fprint(output, "\nAssistant: ")

		stream, err := a.SendStream(ctx, userInput, nil)
		if err != nil {
			fmt.Fprintf(errOutput, "\nError: %v\n", err)
			continue
		}

		var inThinking bool
		for stream.Next(ctx) {
			chunk := stream.Current()
			if chunk.Thinking != "" {
				if !inThinking {
					fmt.Fprint(output, "\n[thinking] ")
					inThinking = true
				}
				fmt.Fprint(output, chunk.Thinking)
			}
			if chunk.Output != "" {
				if inThinking {
					fmt.Fprint(output, "\n\n")
					inThinking = false
				}
				fmt.Fprint(output, chunk.Output)
			}
		}
		if err := stream.Err(); err != nil {
			fmt.Fprintf(errOutput, "\nError: %v\n", err)
		}
		stream.Close()

		fmt.Fprintln(output)
		fmt.Fprintln(output, "---")
	}
}

// readMessage reads multi-line input until a blank line terminates it (or
// EOF), and recognizes exit/quit as commands typed on the first line.
func readMessage(reader *bufio.Reader, output io.Writer) (message string, done bool, err error) {
	var lines []string

	for {
		line, readErr := reader.ReadString('\n')
		if readErr == io.EOF {
			if len(lines) > 0 {
				break
			}
			fmt.Fprintln(output, "\nGoodbye!")
			return "", true, nil
		}
		if readErr != nil {
			return "", false, fmt.Errorf("read input: %w", readErr)
		}

		line = strings.TrimRight(line, "\n\r")

		if len(lines) == 0 && (line == "exit" || line == "quit") {
			fmt.Fprintln(output, "\nGoodbye!")
			return "", true, nil
		}

		if line == "" && len(lines) > 0 {
			break
		}
		if line != "" {
			lines = append(lines, line)
		}
	}

	return strings.Join(lines, "\n"), false, nil
}
