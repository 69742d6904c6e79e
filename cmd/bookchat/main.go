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
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"bookchat/internal/app"
	"bookchat/internal/config"
	"bookchat/internal/connection"
	"bookchat/pkg/types"
)

func main() {
	var (
		roomID     = flag.Int64("room", 0, "chat room ID to enter")
		configPath = flag.String("config", "", "optional JSON config file")
		dev        = flag.Bool("dev", false, "development logging")
	)
	flag.Parse()

	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	logger, err := newLogger(*dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *roomID <= 0 {
		fmt.Fprintln(os.Stderr, "usage: bookchat -room <id>")
		os.Exit(2)
	}

	cfg := config.LoadConfigWithPrecedence(*configPath)
	if err := run(cfg, *roomID, logger); err != nil {
		logger.Error("bookchat exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, roomID int64, logger *zap.Logger) error {
	session, err := app.NewRoomSession(cfg, roomID, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enterCtx, enterCancel := context.WithTimeout(ctx, 30*time.Second)
	err = session.Enter(enterCtx)
	enterCancel()
	if err != nil {
		return fmt.Errorf("cannot enter room %d: %w", roomID, err)
	}

	// Leaving must run on every exit path: prompt quit, signal, error.
	defer func() {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer leaveCancel()
		_ = session.Leave(leaveCtx)
	}()

	if err := session.HistoryErr(); err != nil {
		fmt.Printf("! history unavailable (%v) - type /retry to reload\n", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go renderLoop(ctx, session)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Printf("connected to room %d - /older, /retry, /leave\n", roomID)
	for {
		select {
		case <-sigCh:
			fmt.Println("\nleaving room...")
			return nil

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := handleLine(ctx, session, line); done {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, session *app.RoomSession, line string) bool {
	trimmed := strings.TrimSpace(line)
	switch trimmed {
	case "":
		return false
	case "/leave":
		return true
	case "/retry":
		if err := session.RetryHistory(ctx); err != nil {
			fmt.Printf("! history retry failed: %v\n", err)
		}
		return false
	case "/older":
		n, err := session.LoadOlder(ctx)
		if err != nil {
			fmt.Printf("! could not load older messages: %v\n", err)
		} else {
			fmt.Printf("loaded %d older messages\n", n)
		}
		return false
	case "/reconnect":
		session.Reconnect()
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := session.Send(sendCtx, trimmed); err != nil {
		// The unsent text stays with the user for retry; nothing was
		// appended and nothing will be retried automatically.
		fmt.Printf("! send failed (%v), your message was not delivered: %s\n", err, trimmed)
	}
	return false
}

// renderLoop prints new messages and connection-status changes. Status is
// a non-blocking indicator line, never a hard stop, except for the
// exhausted-retry state which stays on screen until the user acts.
func renderLoop(ctx context.Context, session *app.RoomSession) {
	printed := make(map[int64]struct{})
	updates := session.Updates()

	// History may land before the subscription above, so drain the
	// current snapshot first.
	printNew(session, printed)

	for {
		select {
		case <-ctx.Done():
			return

		case <-updates:
			printNew(session, printed)

		case state := <-session.ConnectionStates():
			switch state {
			case connection.StateConnected:
				fmt.Println("* online")
			case connection.StateConnecting:
				fmt.Println("* connecting...")
			case connection.StateFailed:
				fmt.Println("* connection lost, retrying...")
			case connection.StateGivenUp:
				fmt.Println("* could not reconnect - type /reconnect to try again")
			}
		}
	}
}

// printNew walks the ordered snapshot and prints whatever has not been
// shown yet. Older pages insert at the front, so positional tracking
// would skip them; tracking by id does not.
func printNew(session *app.RoomSession, printed map[int64]struct{}) {
	for _, msg := range session.Messages() {
		if _, ok := printed[msg.ID]; ok {
			continue
		}
		printed[msg.ID] = struct{}{}
		printMessage(msg)
	}
}

func printMessage(msg types.Message) {
	stamp := msg.CreatedAt.Local().Format("15:04")
	switch {
	case msg.Kind == types.MessageKindSystem:
		fmt.Printf("  -- %s --\n", msg.Content)
	case msg.Mine:
		fmt.Printf("[%s] me: %s\n", stamp, msg.Content)
	default:
		fmt.Printf("[%s] %s: %s\n", stamp, msg.SenderNickname, msg.Content)
	}
}
