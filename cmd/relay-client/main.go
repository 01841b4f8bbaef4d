// Command relay-client is a line-oriented terminal client for the relay.
//
//	/join <room>   focus a room (leaves the previous one)
//	/leave         leave the focused room
//	/dm <peer>     open a private chat and load its history
//	/quit          disconnect
//
// Any other line is sent to the focused room or peer. Typing hints are
// emitted while a private chat is open.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"chat-relay/internal/logging"
	"chat-relay/internal/models"
	"chat-relay/internal/session"
)

type clientFlags struct {
	URL      string
	Identity string
	Token    string
	LogLevel string
}

func main() {
	flags := &clientFlags{}
	app := &cli.Command{
		Name:      "relay-client",
		Usage:     "Chat through a relay from the terminal",
		UsageText: "relay-client --identity <name> [--url ws://host:port/ws] [--token <token>]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "url",
				Usage:       "websocket endpoint of the relay",
				Sources:     cli.EnvVars("RELAY_URL"),
				Value:       "ws://localhost:8083/ws",
				Destination: &flags.URL,
			},
			&cli.StringFlag{
				Name:        "identity",
				Aliases:     []string{"i"},
				Usage:       "identity to register as",
				Sources:     cli.EnvVars("RELAY_IDENTITY"),
				Required:    true,
				Destination: &flags.Identity,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "bearer token for relays that verify identities",
				Sources:     cli.EnvVars("RELAY_TOKEN"),
				Destination: &flags.Token,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("LOG_LEVEL"),
				Value:       "warn",
				Destination: &flags.LogLevel,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			return run(ctx, flags, os.Stdin)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, flags *clientFlags, input io.Reader) error {
	log, err := logging.New(flags.LogLevel, logging.FormatConsole, os.Stderr)
	if err != nil {
		return err
	}

	header := http.Header{}
	if flags.Token != "" {
		header.Set("Authorization", "Bearer "+flags.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, flags.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", flags.URL, err)
	}
	defer conn.Close()

	emitter := session.NewConnEmitter(conn)
	s := session.New(flags.Identity, emitter)
	defer s.Close()
	if err := s.Register(); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		printFrames(conn, s, log)
	}()

	lines := make(chan string)
	inputErr := make(chan error, 1)
	go readLines(input, lines, inputErr)

	for {
		select {
		case <-disconnected:
			fmt.Println("! disconnected")
			return nil
		case <-ctx.Done():
			_ = s.Close()
			return emitter.CloseNormal()
		case err := <-inputErr:
			_ = s.Close()
			if closeErr := emitter.CloseNormal(); err == nil {
				err = closeErr
			}
			return err
		case line := <-lines:
			if line == "/quit" {
				_ = s.Close()
				return emitter.CloseNormal()
			}
			if err := handleLine(s, line); err != nil {
				fmt.Println("!", err)
			}
		}
	}
}

// readLines forwards stdin lines until EOF, then reports the scanner error
// (nil on EOF).
func readLines(r io.Reader, lines chan<- string, done chan<- error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
	done <- scanner.Err()
}

func handleLine(s *session.Session, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "/join":
		return s.JoinRoom(arg)
	case "/leave":
		return s.LeaveRoom()
	case "/dm":
		return s.OpenDirect(arg)
	}
	if err := s.InputChanged(); err != nil {
		return err
	}
	return s.Send(line)
}

// printFrames prints incoming frames until the connection fails.
func printFrames(conn *websocket.Conn, s *session.Session, log zerolog.Logger) {
	for {
		var frame struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			log.Debug().Err(err).Msg("read loop stopped")
			return
		}

		switch frame.Type {
		case models.EventRoomHistory:
			var msgs []models.GroupMessage
			if json.Unmarshal(frame.Payload, &msgs) == nil {
				for _, m := range msgs {
					printGroup(m)
				}
			}
		case models.EventGroupMessage:
			var m models.GroupMessage
			if json.Unmarshal(frame.Payload, &m) == nil {
				printGroup(m)
			}
		case models.EventPrivateHistory:
			var h models.PrivateHistory
			if json.Unmarshal(frame.Payload, &h) == nil {
				for _, m := range h.Messages {
					printDirect(s.Identity(), m)
				}
			}
		case models.EventPrivateMessage:
			var m models.DirectMessage
			if json.Unmarshal(frame.Payload, &m) == nil {
				printDirect(s.Identity(), m)
			}
		case models.EventTyping:
			var t models.TypingSignal
			if json.Unmarshal(frame.Payload, &t) == nil && t.Sender == s.Peer() && t.IsTyping {
				fmt.Printf("  %s is typing...\n", t.Sender)
			}
		default:
			log.Debug().Str("type", frame.Type).Msg("unhandled frame")
		}
	}
}

func printGroup(m models.GroupMessage) {
	fmt.Printf("[%s] [ROOM:%s] %s: %s\n", m.SentAt.Local().Format("15:04:05"), m.Room, m.Sender, m.Body)
}

func printDirect(self string, m models.DirectMessage) {
	from := m.Sender
	if from == self {
		from = "ME"
	}
	fmt.Printf("[%s] [PRIVATE:%s -> %s] %s\n", m.SentAt.Local().Format("15:04:05"), from, m.Recipient, m.Body)
}
