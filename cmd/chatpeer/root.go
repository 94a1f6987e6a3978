package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/mossy-p/stranger-chat/config"
	"github.com/mossy-p/stranger-chat/internal/logging"
	"github.com/mossy-p/stranger-chat/internal/negotiation"
	"github.com/mossy-p/stranger-chat/internal/peerclient"
	"github.com/spf13/cobra"
)

var (
	flagServer     string
	flagSTUN       string
	flagLogLevel   string
	flagAutoAccept bool
	flagVideo      bool
)

var rootCmd = &cobra.Command{
	Use:   "chatpeer",
	Short: "Headless participant for the stranger chat server",
	Long: `chatpeer connects to a stranger chat server, gets paired with a random
partner and relays lines typed on stdin as chat messages.

Commands typed on their own line:
  /next      leave the current partner and find another
  /video     ask the partner for a video upgrade
  /accept    accept the partner's video request
  /decline   decline the partner's video request
  /text      leave video and return to text chat
  /renego    renegotiate the active video connection
  /quit      disconnect

Examples:
  chatpeer
  chatpeer --server ws://chat.example.com/ws --video
  chatpeer --auto-accept --stun stun:stun.example.com:3478`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagServer, "server", "", "websocket url of the server (env SERVER_URL)")
	rootCmd.Flags().StringVar(&flagSTUN, "stun", "", "STUN server url (env STUN_SERVER)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level (env LOG_LEVEL)")
	rootCmd.Flags().BoolVar(&flagAutoAccept, "auto-accept", false, "accept every video request")
	rootCmd.Flags().BoolVar(&flagVideo, "video", false, "ask every new partner for video")
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg := config.LoadClient(config.ClientOptions{
		ServerURL:  flagServer,
		STUNServer: flagSTUN,
		LogLevel:   flagLogLevel,
	})
	log := logging.New(cfg.LogLevel, "development")

	client := peerclient.NewClient(cfg.ServerURL, log)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	peer := peerclient.New(peerclient.Options{
		Client: client,
		Connect: func(onCandidate func(negotiation.Candidate)) negotiation.ConnectionFactory {
			return peerclient.NewConnectionFactory(cfg.STUNServers, peerclient.Callbacks{
				OnCandidate: onCandidate,
				OnTrack: func(kind string) {
					fmt.Fprintf(out, "* receiving %s from stranger\n", kind)
				},
			}, log)
		},
		Acquire:      peerclient.AcquireSynthetic,
		AutoAccept:   flagAutoAccept,
		RequestVideo: flagVideo,
		OnEvent:      func(ev peerclient.Event) { render(out, ev) },
		Log:          log,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readCommands(in, peer, cancel)

	err := peer.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func readCommands(in io.Reader, peer *peerclient.Peer, quit context.CancelFunc) {
	defer quit()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit":
			return
		case "/next":
			peer.Next()
		case "/video":
			peer.RequestVideo()
		case "/text":
			peer.LeaveVideo()
		case "/accept":
			peer.Answer(true)
		case "/decline":
			peer.Answer(false)
		case "/renego":
			peer.Renegotiate()
		default:
			peer.Say(line)
		}
	}
}

func render(out io.Writer, ev peerclient.Event) {
	switch ev.Kind {
	case peerclient.EventWaiting:
		fmt.Fprintln(out, "* looking for a stranger...")
	case peerclient.EventMatched:
		mode := "text"
		if ev.On {
			mode = "video"
		}
		fmt.Fprintf(out, "* connected to a stranger (%s mode) as %s\n", mode, ev.Role)
	case peerclient.EventEnded:
		fmt.Fprintln(out, "* stranger left")
	case peerclient.EventMessage:
		fmt.Fprintf(out, "stranger: %s\n", ev.Text)
	case peerclient.EventPartnerMode:
		if ev.On {
			fmt.Fprintln(out, "* stranger switched to video mode")
		} else {
			fmt.Fprintln(out, "* stranger switched to text mode")
		}
	case peerclient.EventVideoRequested:
		fmt.Fprintln(out, "* stranger wants to start video (/accept or /decline)")
	case peerclient.EventVideoAccepted:
		fmt.Fprintln(out, "* video accepted, preparing...")
	case peerclient.EventVideoDeclined:
		fmt.Fprintln(out, "* video declined")
	case peerclient.EventVideoEnded:
		fmt.Fprintln(out, "* back to text chat")
	case peerclient.EventNegotiation:
		if ev.Negotiation.Kind == negotiation.EventReady {
			fmt.Fprintln(out, "* both sides ready, negotiating")
		}
	}
}
