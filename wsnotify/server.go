package wsnotify

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/conveyor/stream"
)

// Server upgrades HTTP requests to WebSocket connections and bridges
// them to the stream broker. Connect with query parameters:
//
//	GET /ws?topics=jobs,kind:email&format=msgpack
//
// topics defaults to the firehose; format defaults to json.
type Server struct {
	broker *stream.Broker
	logger *slog.Logger
}

// NewServer creates a WebSocket notification server on the broker.
func NewServer(broker *stream.Broker, logger *slog.Logger) *Server {
	return &Server{broker: broker, logger: logger}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	codec := GetCodec(r.URL.Query().Get("format"))

	topics := parseTopics(r.URL.Query().Get("topics"))
	for _, topic := range topics {
		if err := stream.ValidateTopic(topic); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	go s.serve(conn, codec, topics)
}

func parseTopics(raw string) []string {
	if raw == "" {
		return []string{stream.TopicFirehose}
	}
	parts := strings.Split(raw, ",")
	topics := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			topics = append(topics, p)
		}
	}
	if len(topics) == 0 {
		return []string{stream.TopicFirehose}
	}
	return topics
}

func (s *Server) serve(conn net.Conn, codec Codec, topics []string) {
	defer conn.Close()

	sub := s.broker.Subscribe(topics...)
	defer s.broker.RemoveSubscriber(sub.ID())

	s.logger.Info("websocket client connected",
		slog.String("subscriber_id", sub.ID().String()),
		slog.String("codec", codec.Name()),
		slog.Int("topics", len(topics)),
	)

	// The forward goroutine and the command loop both write to the
	// connection; writes are serialized by writeMu.
	var writeMu sync.Mutex

	go func() {
		for env := range sub.C() {
			frame := &Frame{
				Type:      FrameEvent,
				Timestamp: time.Now().UTC(),
				Envelope:  env,
			}
			if err := s.writeFrame(conn, codec, &writeMu, frame); err != nil {
				conn.Close()
				return
			}
		}
		// Broker closed the subscriber; unblock the command loop.
		conn.Close()
	}()

	for {
		data, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			s.logger.Info("websocket client disconnected",
				slog.String("subscriber_id", sub.ID().String()))
			return
		}

		cmd, decErr := codec.DecodeCommand(data)
		if decErr != nil {
			s.reply(conn, codec, &writeMu, errorFrame("", "invalid command: "+decErr.Error()))
			continue
		}

		switch cmd.Action {
		case ActionPing:
			s.reply(conn, codec, &writeMu, &Frame{
				Type:      FramePong,
				Timestamp: time.Now().UTC(),
				CorrelID:  cmd.ID,
			})

		case ActionCredits:
			if cmd.Credits <= 0 {
				s.reply(conn, codec, &writeMu, errorFrame(cmd.ID, "credits must be positive"))
				continue
			}
			sub.AddCredits(cmd.Credits)
			s.reply(conn, codec, &writeMu, ackFrame(cmd.ID))

		case ActionSubscribe:
			if err := stream.ValidateTopic(cmd.Topic); err != nil {
				s.reply(conn, codec, &writeMu, errorFrame(cmd.ID, err.Error()))
				continue
			}
			s.broker.SubscribeTo(sub.ID(), cmd.Topic)
			s.reply(conn, codec, &writeMu, ackFrame(cmd.ID))

		case ActionUnsubscribe:
			s.broker.Unsubscribe(sub.ID(), cmd.Topic)
			s.reply(conn, codec, &writeMu, ackFrame(cmd.ID))

		default:
			s.reply(conn, codec, &writeMu, errorFrame(cmd.ID, "unknown action "+string(cmd.Action)))
		}
	}
}

// reply writes a frame, logging failures instead of returning them:
// a dead connection surfaces through the read loop.
func (s *Server) reply(conn net.Conn, codec Codec, mu *sync.Mutex, frame *Frame) {
	if err := s.writeFrame(conn, codec, mu, frame); err != nil {
		s.logger.Warn("websocket write failed", slog.String("error", err.Error()))
	}
}

func (s *Server) writeFrame(conn net.Conn, codec Codec, mu *sync.Mutex, frame *Frame) error {
	data, err := codec.EncodeFrame(frame)
	if err != nil {
		return err
	}
	op := ws.OpText
	if codec.Binary() {
		op = ws.OpBinary
	}

	mu.Lock()
	defer mu.Unlock()
	return wsutil.WriteServerMessage(conn, op, data)
}
