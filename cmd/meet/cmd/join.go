package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vizioway/meet/internal/adapters/rtc"
	"github.com/vizioway/meet/internal/auth"
	"github.com/vizioway/meet/internal/client"
	"github.com/vizioway/meet/internal/domain"
	"github.com/vizioway/meet/internal/media"
	"github.com/vizioway/meet/internal/protocol"
)

var (
	flagServer     string
	flagToken      string
	flagRoom       string
	flagSTUN       []string
	flagScreenAt   time.Duration
	flagChatOnJoin string
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a meeting room",
	Long: `Join a room on the relay and hold peer connections to every other
participant until interrupted.

Examples:
  meet join --server http://localhost:8080 --token $TOKEN --room standup
  meet join --room demo --screen-share-after 10s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin()
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagServer, "server", "http://localhost:8080", "relay base URL")
	joinCmd.Flags().StringVar(&flagToken, "token", "", "bearer token from the authentication gate")
	joinCmd.Flags().StringVar(&flagRoom, "room", "", "room id to join")
	joinCmd.Flags().StringSliceVar(&flagSTUN, "stun", nil, "STUN server URLs (skips fetching the relay's ice-config)")
	joinCmd.Flags().DurationVar(&flagScreenAt, "screen-share-after", 0, "start screen share after this delay")
	joinCmd.Flags().StringVar(&flagChatOnJoin, "say", "", "chat message to send after joining")
	_ = joinCmd.MarkFlagRequired("token")
	_ = joinCmd.MarkFlagRequired("room")
	rootCmd.AddCommand(joinCmd)
}

func runJoin() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gate := identityFromToken(flagToken)
	if gate.ID == "" {
		return fmt.Errorf("token carries no userId claim")
	}

	sig, err := client.Dial(ctx, flagServer, flagToken)
	if err != nil {
		return err
	}
	defer sig.Close()

	// Camera/microphone stand-ins; a failure degrades to signaling-only
	// rather than aborting the join.
	source, err := media.NewSynthetic(ctx, string(gate.ID))
	if err != nil {
		log.Warn().Err(err).Msg("media acquisition failed, joining without tracks")
		source = nil
	}

	var iceServers []webrtc.ICEServer
	if len(flagSTUN) > 0 {
		for _, u := range flagSTUN {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
		}
	} else {
		fetched, err := client.FetchICEConfig(ctx, flagServer)
		if err != nil {
			log.Warn().Err(err).Msg("relay ice-config unavailable, using defaults")
		} else {
			iceServers = fetched
		}
	}
	cfg := rtc.Config(iceServers)
	factory := func() (client.PeerConn, error) { return rtc.New(cfg) }

	var src media.Source
	if source != nil {
		src = source
	}
	orch := client.NewOrchestrator(gate, sig, sig.Inbound(), factory, src)

	orch.OnPeerConnected(func(id domain.UserID, name string) {
		fmt.Fprintf(os.Stdout, "* %s (%s) connected\n", name, id)
	})
	orch.OnPeerClosed(func(id domain.UserID) {
		fmt.Fprintf(os.Stdout, "* %s left\n", id)
	})
	orch.OnChat(func(m protocol.ChatMessage) {
		fmt.Fprintf(os.Stdout, "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.SenderName, m.Text)
	})
	orch.OnPeerMedia(func(m protocol.UserMediaChange) {
		fmt.Fprintf(os.Stdout, "* %s media video=%v audio=%v\n", m.UserID, m.Video, m.Audio)
	})

	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	if err := orch.JoinRoom(domain.RoomID(flagRoom)); err != nil {
		return err
	}
	log.Info().Str("room", flagRoom).Str("user", string(gate.ID)).Msg("joined room")

	if flagChatOnJoin != "" {
		_ = orch.SendChat(flagChatOnJoin)
	}
	if flagScreenAt > 0 {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(flagScreenAt):
			}
			track, stop, err := media.NewScreenTrack(ctx, string(gate.ID))
			if err != nil {
				log.Warn().Err(err).Msg("screen capture failed")
				return
			}
			log.Info().Msg("starting screen share")
			orch.StartScreenShare(track, stop)
		}()
	}

	<-ctx.Done()
	orch.Leave()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// identityFromToken extracts the unverified claims for local display.
// The relay does the authoritative verification at connect time.
func identityFromToken(token string) domain.User {
	user, err := auth.UnverifiedIdentity(token)
	if err != nil {
		return domain.User{}
	}
	return user
}
