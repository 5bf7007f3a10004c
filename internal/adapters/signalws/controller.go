package signalws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vizioway/meet/internal/app"
	"github.com/vizioway/meet/internal/config"
	"github.com/vizioway/meet/internal/domain"
	"github.com/vizioway/meet/internal/protocol"
)

// Per-user flood limits. Joins are expensive (membership churn plus
// fan-out), chat is merely noisy, so they get separate budgets.
const (
	joinLimit  = 8
	joinWindow = 10 * time.Second
	chatLimit  = 20
	chatWindow = 10 * time.Second
)

type Controller struct {
	Relay *app.Relay
	Cfg   *config.Config

	joins *RateLimiter
	chat  *RateLimiter
}

func NewController(relay *app.Relay, cfg *config.Config) *Controller {
	return &Controller{
		Relay: relay,
		Cfg:   cfg,
		joins: NewRateLimiter(joinLimit, joinWindow),
		chat:  NewRateLimiter(chatLimit, chatWindow),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades an already-authenticated request. The identity
// was verified by the auth middleware before the upgrade; a failed token
// never reaches this point.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context, user domain.User) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signalws").Str("user", string(user.ID)).
		Str("name", user.Name).Msg("signaling connection established")

	conn := newWSConn(ws, ctl.Cfg.SendBuffer)
	sess := app.NewSession(user, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, conn)
	go ctl.readPump(ctx, cancel, sess, conn)
}

func (ctl *Controller) writePump(ctx context.Context, cancel context.CancelFunc, c *wsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signalws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signalws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sess *app.Session, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signalws").Str("user", string(sess.User.ID)).Msg("readPump closing")
		ctl.Relay.HandleDisconnect(sess)
		ctl.joins.Forget(sess.User.ID)
		ctl.chat.Forget(sess.User.ID)
		cancel()
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	pongWait := ctl.Cfg.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.dispatch(sess, data)
		}
	}
}

// dispatch decodes one envelope and routes it into the relay. A bad
// frame is this connection's problem only.
func (ctl *Controller) dispatch(sess *app.Session, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signalws").
			Str("user", string(sess.User.ID)).Msg("bad json frame dropped")
		return
	}

	switch env.Type {
	case protocol.TypeJoinRoom:
		if !ctl.joins.Allow(sess.User.ID) {
			log.Warn().Str("module", "signalws").Str("user", string(sess.User.ID)).
				Msg("join-room rate limited")
			return
		}
		var p protocol.JoinRoom
		if env.Payload != nil {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				log.Warn().Err(err).Str("module", "signalws").Msg("bad join-room payload")
				return
			}
		}
		roomID := p.RoomID
		if roomID == "" {
			roomID = env.RoomID
		}
		ctl.Relay.HandleJoin(sess, domain.RoomID(roomID))
	case protocol.TypeSendOffer, protocol.TypeSendAnswer, protocol.TypeSendCandidate:
		ctl.Relay.HandleSignal(sess, env.Type, env.Payload)
	case protocol.TypeSendMessage:
		if !ctl.chat.Allow(sess.User.ID) {
			log.Warn().Str("module", "signalws").Str("user", string(sess.User.ID)).
				Msg("chat rate limited")
			return
		}
		var p protocol.ChatSend
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn().Err(err).Str("module", "signalws").Msg("bad send-message payload")
			return
		}
		ctl.Relay.HandleChat(sess, p.Text)
	case protocol.TypeMediaStateChange:
		var p protocol.MediaState
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn().Err(err).Str("module", "signalws").Msg("bad media-state payload")
			return
		}
		ctl.Relay.HandleMediaState(sess, p)
	default:
		log.Warn().Str("module", "signalws").Str("type", env.Type).Msg("unknown signal type")
	}
}
