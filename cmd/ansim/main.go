// Command ansim is the terminal client for the Ansim pregnancy nutrition
// assistant: food recognition, realtime safety chat, and the voice session.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/momtouch/ansim/internal/app"
	"github.com/momtouch/ansim/internal/config"
	"github.com/momtouch/ansim/internal/observe"
	"github.com/momtouch/ansim/pkg/chat"
	"github.com/momtouch/ansim/pkg/foodsafety"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	foodName := flag.String("food", "", "food name to open a safety chat for")
	imagePath := flag.String("image", "", "path to a food photo to recognize")
	listStyles := flag.Bool("styles", false, "list the available dialect styles and exit")
	voiceMode := flag.Bool("voice", false, "start a realtime voice session")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ansim: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ansim: %v\n", err)
		}
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry providers ───────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ansim starting",
		"config", *configPath,
		"backend", cfg.API.BaseURL,
		"admin_addr", cfg.Admin.ListenAddr,
	)

	runErr := make(chan error, 1)
	go func() {
		runErr <- application.Run(ctx, *configPath)
	}()

	exitCode := 0
	switch {
	case *listStyles:
		exitCode = printStyles(ctx, application)
	case *voiceMode:
		exitCode = runVoice(ctx, application)
	default:
		exitCode = runChat(ctx, application, *imagePath, *foodName)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	return exitCode
}

// printStyles lists the dialect styles the backend offers.
func printStyles(ctx context.Context, application *app.App) int {
	styles, err := application.API().ListStyles(ctx)
	if err != nil {
		slog.Error("failed to list styles", "err", err)
		return 1
	}
	for _, s := range styles {
		fmt.Printf("%s\t%s\n", s.ID, s.Name)
	}
	return 0
}

// runChat optionally recognizes a photo first, then opens the safety chat
// for the resolved food and relays stdin lines until EOF or cancellation.
func runChat(ctx context.Context, application *app.App, imagePath, foodName string) int {
	if imagePath != "" {
		name, code := recognizeImage(ctx, application, imagePath)
		if code != 0 {
			return code
		}
		if foodName == "" {
			foodName = name
		}
	}

	if strings.TrimSpace(foodName) == "" {
		fmt.Fprintln(os.Stderr, "ansim: provide -food or -image to start a chat")
		return 2
	}

	mgr, err := application.Chats().Open(ctx, foodName)
	if err != nil {
		slog.Error("failed to open chat", "food", foodName, "err", err)
		return 1
	}

	fmt.Printf("[%s] 채팅을 시작합니다. 종료하려면 Ctrl+D를 누르세요.\n", foodName)

	printed := printMessages(mgr.State().Messages, 0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				printed = printMessages(mgr.State().Messages, printed)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := mgr.Send(line); err != nil {
			slog.Warn("send failed", "err", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	<-ctx.Done()
	<-done
	return 0
}

// printMessages prints history entries past the already-printed count and
// returns the new count.
func printMessages(msgs []chat.Message, from int) int {
	for _, m := range msgs[min(from, len(msgs)):] {
		switch m.Role {
		case chat.RoleUser:
			fmt.Printf("나> %s\n", m.Text)
		case chat.RoleSystem:
			fmt.Printf("** %s\n", m.Text)
		default:
			fmt.Printf("안심이> %s\n", m.Text)
		}
	}
	return len(msgs)
}

// recognizeImage uploads the photo and prints the safety verdict. Returns
// the recognized food name and a process exit code.
func recognizeImage(ctx context.Context, application *app.App, path string) (string, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("failed to read image", "path", path, "err", err)
		return "", 1
	}

	result, err := application.RecognizeFood(ctx, base64.StdEncoding.EncodeToString(data))
	if err != nil {
		slog.Error("recognition failed", "err", err)
		return "", 1
	}

	name := foodsafety.FoodName(result)
	fmt.Printf("인식된 음식: %s (%s)\n", name, foodsafety.Classify(result))
	if nutrition := foodsafety.NutritionText(result); nutrition != "" {
		fmt.Println(nutrition)
	}
	return name, 0
}

// runVoice starts the realtime voice session and streams transcripts to
// stdout until interrupted.
func runVoice(ctx context.Context, application *app.App) int {
	if err := application.ConnectVoice(ctx); err != nil {
		slog.Error("voice connect failed", "err", err)
		return 1
	}
	defer application.Voice().Disconnect()

	fmt.Println("음성 세션이 연결됐어요. 종료하려면 Ctrl+C를 누르세요.")

	printed := make(map[string]bool)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
			for _, entry := range application.Voice().State().Transcripts {
				if entry.Finalized && !printed[entry.ID] {
					printed[entry.ID] = true
					fmt.Printf("%s: %s\n", entry.Role, entry.Text)
				}
			}
		}
	}
}
