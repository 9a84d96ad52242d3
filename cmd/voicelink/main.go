// Command voicelink is a terminal client for the FarmDepot voice assistant.
// It captures the microphone, streams it to the conversational agent, plays
// the agent's speech back gaplessly, and prints the running transcript.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/farmdepot-ng/voicelink/internal/dotenv"
	"github.com/farmdepot-ng/voicelink/pkg/channel"
	"github.com/farmdepot-ng/voicelink/pkg/channel/gemini"
	"github.com/farmdepot-ng/voicelink/pkg/channel/ws"
	"github.com/farmdepot-ng/voicelink/pkg/live"
)

type options struct {
	gateway     string
	apiKey      string
	model       string
	lang        string
	voice       string
	website     string
	metricsAddr string
	noNavigate  bool
	debug       bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	_ = dotenv.Load()

	var opt options
	flag.StringVar(&opt.gateway, "gateway", "", "Voice gateway ws(s):// URL; empty connects to the Gemini Live API directly")
	flag.StringVar(&opt.apiKey, "api-key", strings.TrimSpace(os.Getenv("GEMINI_API_KEY")), "API key (also reads GEMINI_API_KEY)")
	flag.StringVar(&opt.model, "model", live.DefaultModel, "Agent model identifier")
	flag.StringVar(&opt.lang, "lang", "0", "Initial language id (0=English 1=Hausa 2=Igbo 3=Yoruba 4=Pidgin)")
	flag.StringVar(&opt.voice, "voice", live.DefaultVoice, "Prebuilt voice name")
	flag.StringVar(&opt.website, "website", live.WebsiteURL, "Marketplace base URL for navigation tools")
	flag.StringVar(&opt.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (for example :9090)")
	flag.BoolVar(&opt.noNavigate, "no-navigate", false, "Print tool navigation URLs instead of opening a browser")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if _, ok := live.LanguageByID(opt.lang); !ok {
		fmt.Fprintf(os.Stderr, "unknown language id %q\n", opt.lang)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer, err := buildDialer(ctx, opt)
	if err != nil {
		logger.Error("dialer setup failed", "error", err)
		return 1
	}

	cfg := live.DefaultSessionConfig()
	cfg.Model = opt.model
	cfg.Voice = opt.voice
	cfg.WebsiteURL = opt.website
	cfg.LanguageID = opt.lang

	host, err := newHostAudio(cfg.Playback)
	if err != nil {
		logger.Error("audio setup failed", "error", err)
		return 1
	}
	defer host.close()

	metrics := live.NewMetrics("")
	if opt.metricsAddr != "" {
		go serveMetrics(opt.metricsAddr, metrics, logger)
	}

	session := live.NewSession(cfg, live.SessionOptions{
		Dialer:    dialer,
		Capture:   &micOpener{host: host},
		Clock:     host.clock,
		Sink:      &speakerSink{speaker: host.speaker, clock: host.clock},
		Navigator: newNavigator(opt.noNavigate),
		Logger:    logger,
		Metrics:   metrics,
	})
	defer session.Stop()

	go printEvents(session)

	fmt.Println(live.WelcomeMessage)
	fmt.Println(`Speak once connected. Commands: /start /stop /lang <id> /clear /quit; anything else is sent as text.`)

	if err := session.Start(ctx); err != nil {
		logger.Error("session start failed", "error", err)
		return 1
	}

	return readCommands(ctx, session, logger)
}

func buildDialer(ctx context.Context, opt options) (channel.Dialer, error) {
	if opt.gateway != "" {
		return ws.NewDialer(ws.Options{URL: opt.gateway, APIKey: opt.apiKey})
	}
	return gemini.NewDialer(ctx, opt.apiKey)
}

// readCommands drives the session from stdin until EOF, /quit, or a signal.
func readCommands(ctx context.Context, session *live.Session, logger *slog.Logger) int {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nshutting down")
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit":
				return 0
			case line == "/start":
				if err := session.Start(ctx); err != nil {
					logger.Error("start failed", "error", err)
				}
			case line == "/stop":
				session.Stop()
			case line == "/clear":
				session.ClearChat()
			case strings.HasPrefix(line, "/lang "):
				id := strings.TrimSpace(strings.TrimPrefix(line, "/lang "))
				if err := session.SendLanguageSwitch(ctx, id); err != nil {
					logger.Error("language switch failed", "error", err)
				}
			default:
				if err := session.SendText(ctx, line); err != nil {
					logger.Error("send failed", "error", err)
				}
			}
		}
	}
}

// printEvents renders session events to the terminal.
func printEvents(session *live.Session) {
	for ev := range session.Events() {
		switch e := ev.(type) {
		case *live.StateChangedEvent:
			fmt.Printf("[%s]\n", e.Status)
		case *live.MessagesChangedEvent:
			msgs := session.Messages()
			if len(msgs) == 0 {
				continue
			}
			last := msgs[len(msgs)-1]
			marker := " "
			if last.Open() {
				marker = "…"
			}
			fmt.Printf("%-5s| %s%s\n", last.Role, last.Text, marker)
		case *live.ErrorEvent:
			fmt.Printf("[error: %s]\n", e.Message)
		}
	}
}

func serveMetrics(addr string, metrics *live.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", "error", err)
	}
}

// newNavigator opens tool-call URLs in the OS browser, or prints them when
// that is disabled or unsupported.
func newNavigator(printOnly bool) live.Navigator {
	return live.NavigatorFunc(func(url string) error {
		if !printOnly {
			var cmd *exec.Cmd
			switch runtime.GOOS {
			case "darwin":
				cmd = exec.Command("open", url)
			case "linux":
				cmd = exec.Command("xdg-open", url)
			}
			if cmd != nil && cmd.Start() == nil {
				return nil
			}
		}
		fmt.Printf("[open] %s\n", url)
		return nil
	})
}
