// Command agent is a headless chat client: it keeps the user's presence
// fresh, prints pushed messages and optionally sends one message to a peer.
//
// SIGUSR1 moves the agent to the background and SIGUSR2 back to the
// foreground. SIGINT or SIGTERM signs the user off.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"zabon/realtime-service/internal/client"
	"zabon/realtime-service/internal/clock"
	"zabon/realtime-service/internal/config"
	"zabon/realtime-service/internal/conversation"
	"zabon/realtime-service/internal/logging"
	"zabon/realtime-service/internal/models"
	"zabon/realtime-service/internal/presence"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

type options struct {
	peerID string
	send   string
}

func main() {
	configDir := pflag.String("config", "", "directory containing config.yaml")
	userID := pflag.String("user", "", "user id to sign in as (overrides agent.user_id)")
	peerID := pflag.String("peer", "", "open a conversation with this user")
	send := pflag.String("send", "", "message to send to --peer once connected")
	serverURL := pflag.String("server", "", "HTTP base URL (overrides agent.server_url)")
	grpcAddr := pflag.String("grpc", "", "gRPC address (overrides agent.grpc_addr)")
	pflag.Parse()

	var paths []string
	if *configDir != "" {
		paths = append(paths, *configDir)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if *userID != "" {
		cfg.Agent.UserID = *userID
	}
	if *serverURL != "" {
		cfg.Agent.ServerURL = *serverURL
	}
	if *grpcAddr != "" {
		cfg.Agent.GRPCAddr = *grpcAddr
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Agent.UserID == "" {
		logger.Fatal("A user id is required, pass --user or set AGENT_USER_ID")
	}
	if *send != "" && *peerID == "" {
		logger.Fatal("--send requires --peer")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if err := run(context.Background(), cfg, options{peerID: *peerID, send: *send}, logger, quit); err != nil {
		logger.Fatalf("Agent stopped: %v", err)
	}
}

// run signs the user in and blocks until quit fires. Every return, including
// an error return, signs the user off first.
func run(ctx context.Context, cfg *config.Config, opts options, logger *logrus.Logger, quit <-chan os.Signal) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	lifecycle := make(presence.ChannelLifecycle, 1)
	appSignals := make(chan os.Signal, 1)
	signal.Notify(appSignals, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(appSignals)
	go func() {
		for {
			select {
			case sig := <-appSignals:
				state := presence.Foreground
				if sig == syscall.SIGUSR1 {
					state = presence.Background
				}
				select {
				case lifecycle <- state:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	presenceClient := client.NewPresenceClient(cfg.Agent.ServerURL, cfg.Agent.Token, logger)
	tracker := presence.NewTracker(presenceClient, clock.Real(), logger,
		presence.WithInterval(cfg.Presence.HeartbeatInterval),
		presence.WithEmitTimeout(cfg.Presence.EmitTimeout),
		presence.WithLifecycle(lifecycle),
	)
	signOff := tracker.Start(ctx, cfg.Agent.UserID)
	defer signOff()

	chats, err := client.DialChat(cfg.Agent.GRPCAddr, logger)
	if err != nil {
		return fmt.Errorf("connect to chat service: %w", err)
	}
	defer chats.Close()

	var view *conversation.View
	if opts.peerID != "" {
		chat, err := chats.GetOrCreateConversation(ctx, cfg.Agent.UserID, opts.peerID)
		if err != nil {
			return fmt.Errorf("open conversation with %s: %w", opts.peerID, err)
		}

		view = conversation.NewView(chats, chat.ID, cfg.Agent.UserID, opts.peerID, logger)
		logger.WithFields(logrus.Fields{
			"chat_id": view.ChatID(),
			"peer_id": opts.peerID,
		}).Info("Conversation opened")

		showPeerStatus(ctx, presenceClient, opts.peerID, logger)

		if err := view.Load(ctx); err != nil {
			logger.WithError(err).Warn("Failed to load conversation history")
		}
		for _, msg := range view.Messages() {
			printMessage(msg)
		}
	}

	sub, err := client.NewSubscriber(cfg.Agent.ServerURL, cfg.Agent.Token, logger).
		Subscribe(ctx, cfg.Agent.UserID, func(msg *models.Message) {
			if view != nil {
				view.MessageArrived(msg)
			}
			printMessage(msg)
		})
	if err != nil {
		logger.WithError(err).Warn("Live message delivery unavailable")
	} else {
		defer sub.Unsubscribe()
	}

	if view != nil && opts.send != "" {
		if _, err := view.Send(ctx, opts.send); err != nil {
			logger.WithError(err).Error("Failed to send message")
		}
	}

	<-quit

	logger.Info("Signing off...")
	return nil
}

// showPeerStatus prints the peer's presence. A failed read shows offline.
func showPeerStatus(ctx context.Context, presenceClient *client.PresenceClient, peerID string, logger *logrus.Logger) {
	view, err := presenceClient.GetStatus(ctx, peerID)
	if err != nil {
		logger.WithError(err).WithField("peer_id", peerID).Warn("Failed to read peer presence")
		view = &models.StatusView{UserID: peerID, Status: models.StatusOffline}
	}
	fmt.Println(formatStatus(view))
}

func formatStatus(view *models.StatusView) string {
	if view.Status == models.StatusOnline {
		return fmt.Sprintf("%s is online", view.UserID)
	}
	if view.LastSeenAt == nil {
		return fmt.Sprintf("%s is offline", view.UserID)
	}
	return fmt.Sprintf("%s is offline, last seen %s", view.UserID, view.LastSeenAt.Local().Format("2006-01-02 15:04"))
}

func printMessage(msg *models.Message) {
	fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format("15:04:05"), msg.SenderID, msg.Content)
}
