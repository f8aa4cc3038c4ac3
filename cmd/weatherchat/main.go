// Command weatherchat is a terminal client for the weather chat server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/peterh/liner"

	"github.com/AishwaryaChandel27/Weather-Agent/internal/client"
	"github.com/AishwaryaChandel27/Weather-Agent/internal/store"
)

type options struct {
	Server string `env:"WEATHERCHAT_SERVER" envDefault:"http://localhost:8080"`
}

// loadOptions reads the environment first; flags override it.
func loadOptions(args []string) (options, error) {
	var opts options
	if err := env.Parse(&opts); err != nil {
		return opts, fmt.Errorf("parse environment: %w", err)
	}
	fs := flag.NewFlagSet("weatherchat", flag.ContinueOnError)
	fs.StringVar(&opts.Server, "server", opts.Server, "chat server base URL")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func main() {
	opts, err := loadOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "weatherchat: %v\n", err)
		os.Exit(2)
	}

	if err := run(opts.Server); err != nil {
		fmt.Fprintf(os.Stderr, "weatherchat: %v\n", err)
		os.Exit(1)
	}
}

type repl struct {
	api     *client.Client
	session *client.Session
	voice   client.VoiceInput
	line    *liner.State
	out     io.Writer
}

func run(serverURL string) error {
	api := client.New(serverURL, nil)
	if err := api.Health(context.Background()); err != nil {
		return fmt.Errorf("server at %s is not reachable: %w", serverURL, err)
	}

	r := &repl{
		api:   api,
		voice: client.NoVoice{},
		line:  liner.NewLiner(),
		out:   os.Stdout,
	}
	defer r.line.Close()
	r.line.SetCtrlCAborts(true)
	r.session = client.NewSession(api, client.RendererFunc(func(text string) {
		fmt.Fprint(r.out, text)
	}))

	history := historyPath()
	if f, err := os.Open(history); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(history, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}()

	if err := r.session.Load(context.Background()); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Weather chat. Type a question, or /help for commands.")
	if c := r.session.Current(); c != nil {
		fmt.Fprintf(r.out, "Resuming %q (%d messages)\n", c.Title, len(r.session.Messages()))
	}

	for {
		input, err := r.line.Prompt("weather> ")
		if err != nil {
			// Ctrl+C, Ctrl+D or a closed terminal all end the session.
			fmt.Fprintln(r.out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := r.command(input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[error] %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		r.send(input)
	}
}

func historyPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, ".weatherchat_history")
}

// send streams one reply to the terminal. Ctrl+C cancels the reply in flight.
func (r *repl) send(input string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	_, err := r.session.SendMessage(ctx, input)
	fmt.Fprintln(r.out)
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "[cancelled]")
	case err != nil:
		fmt.Fprintf(os.Stderr, "[connection error] %v\n", err)
	}
}

func (r *repl) command(input string) (bool, error) {
	ctx := context.Background()
	parts := strings.Fields(input)
	args := parts[1:]

	switch strings.ToLower(parts[0]) {
	case "/help", "/?":
		fmt.Fprintln(r.out, `Commands:
  /new             start a new conversation
  /list            list conversations
  /use N           switch to conversation N from /list
  /rename TITLE    rename the current conversation
  /delete          delete the current conversation
  /clear           delete every conversation
  /settings        show settings
  /theme MODE      set theme to light, dark or auto
  /voice           start voice dictation
  /quit            exit`)

	case "/new":
		r.session.NewConversation()
		fmt.Fprintln(r.out, "[new conversation]")

	case "/list":
		if err := r.session.Load(ctx); err != nil {
			return false, err
		}
		current := r.session.Current()
		for i, c := range r.session.Conversations() {
			marker := " "
			if current != nil && current.ID == c.ID {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %2d. %s  (%s)\n", marker, i+1, c.Title, c.UpdatedAt.Local().Format("Jan 2 15:04"))
		}

	case "/use":
		if len(args) != 1 {
			return false, errors.New("usage: /use N")
		}
		n, err := strconv.Atoi(args[0])
		convs := r.session.Conversations()
		if err != nil || n < 1 || n > len(convs) {
			return false, fmt.Errorf("no conversation %q, see /list", args[0])
		}
		if err := r.session.SelectConversation(ctx, convs[n-1].ID); err != nil {
			return false, err
		}
		r.printHistory()

	case "/rename":
		current := r.session.Current()
		if current == nil || len(args) == 0 {
			return false, errors.New("usage: /rename TITLE, with a conversation selected")
		}
		conv, err := r.api.RenameConversation(ctx, current.ID, strings.Join(args, " "))
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "[renamed to %q]\n", conv.Title)
		return false, r.session.Load(ctx)

	case "/delete":
		current := r.session.Current()
		if current == nil {
			return false, errors.New("no conversation selected")
		}
		if err := r.session.DeleteConversation(ctx, current.ID); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "[deleted %q]\n", current.Title)

	case "/clear":
		if err := r.session.ClearHistory(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "[history cleared]")

	case "/settings":
		s, err := r.api.GetSettings(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "theme=%s language=%s weatherAlerts=%t soundEnabled=%t\n",
			s.Theme, s.Language, s.WeatherAlerts, s.SoundEnabled)
		if s.Location != nil {
			fmt.Fprintf(r.out, "location=%s (%.4f, %.4f)\n", s.Location.City, s.Location.Lat, s.Location.Lng)
		}

	case "/theme":
		if len(args) != 1 {
			return false, errors.New("usage: /theme light|dark|auto")
		}
		theme := store.Theme(strings.ToLower(args[0]))
		if _, err := r.api.GetSettings(ctx); err != nil {
			return false, err
		}
		s, err := r.api.UpdateSettings(ctx, store.SettingsPatch{Theme: &theme})
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "[theme is now %s]\n", s.Theme)

	case "/voice":
		if !r.voice.Available() {
			fmt.Fprintln(r.out, "[voice input is not available in this terminal]")
			return false, nil
		}
		return false, r.dictate()

	case "/quit", "/exit", "/q":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %s, try /help", parts[0])
	}
	return false, nil
}

// dictate sends each transcript as a message until the capture ends.
func (r *repl) dictate() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := r.voice.Start(ctx); err != nil {
		return err
	}
	defer r.voice.Stop()

	for {
		select {
		case text, ok := <-r.voice.Transcripts():
			if !ok {
				return nil
			}
			fmt.Fprintf(r.out, "weather> %s\n", text)
			r.send(text)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *repl) printHistory() {
	for _, m := range r.session.Messages() {
		who := "you"
		if m.Role == store.RoleAssistant {
			who = "agent"
		}
		fmt.Fprintf(r.out, "%s: %s\n", who, m.Content)
	}
}
