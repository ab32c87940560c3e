// Package transport owns the TCP listener and per-connection reader and
// writer goroutines. It decodes/encodes wire bytes and drives
// internal/broker; it holds no subscription or retained-message state
// of its own.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pyr33x/goqttd/internal/auth"
	"github.com/pyr33x/goqttd/internal/broker"
	"github.com/pyr33x/goqttd/internal/packet"
	"github.com/pyr33x/goqttd/internal/session"
)

// Server accepts TCP (optionally TLS) connections and serves the MQTT
// protocol over each with a broker.Broker as the shared backend.
type Server struct {
	addr           string
	tlsConfig      *tls.Config
	broker         *broker.Broker
	authenticator  auth.Authenticator
	log            *slog.Logger
	maxConnections int32

	listener    net.Listener
	connections atomic.Int32
	shutdown    atomic.Bool
}

func New(addr string, tlsConfig *tls.Config, b *broker.Broker, authenticator auth.Authenticator, log *slog.Logger, maxConnections int32) *Server {
	if maxConnections <= 0 {
		maxConnections = 1000
	}
	return &Server{
		addr:           addr,
		tlsConfig:      tlsConfig,
		broker:         b,
		authenticator:  authenticator,
		log:            log,
		maxConnections: maxConnections,
	}
}

func (s *Server) Start(ctx context.Context) error {
	var listener net.Listener
	var err error
	if s.tlsConfig != nil {
		listener, err = tls.Listen("tcp", s.addr, s.tlsConfig)
	} else {
		listener, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	go s.accept(ctx)
	return nil
}

func (s *Server) Stop() error {
	s.shutdown.Store(true)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) accept(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return
			}
			s.log.Error("accept error", slog.Any("error", err))
			continue
		}

		if s.connections.Load() >= s.maxConnections {
			ack := &packet.ConnAckPacket{ReturnCode: packet.ServerUnavailable}
			conn.Write(ack.Encode())
			conn.Close()
			continue
		}

		s.connections.Add(1)
		go func() {
			defer s.connections.Add(-1)
			s.serve(ctx, conn)
		}()
	}
}

// conn bundles one accepted connection with the session state a
// successful CONNECT attaches to it.
type conn struct {
	net.Conn
	clientID string
	notify   <-chan struct{}
}

func (s *Server) serve(ctx context.Context, nc net.Conn) {
	defer nc.Close()

	c := &conn{Conn: nc}
	dec := &packet.Decoder{}
	remote := nc.RemoteAddr().String()

	nc.SetReadDeadline(time.Now().Add(30 * time.Second))
	first, err := s.readOne(nc, dec)
	if err != nil {
		s.log.Debug("failed to read CONNECT", slog.String("remote", remote), slog.Any("error", err))
		return
	}

	connectPkt, ok := first.(*packet.ConnectPacket)
	if !ok {
		s.log.Warn("first packet was not CONNECT", slog.String("remote", remote))
		return
	}

	if !s.handleConnect(c, connectPkt) {
		return
	}
	defer s.broker.Disconnect(c.clientID, true)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.writeLoop(ctx, c)

	keepAlive := time.Duration(connectPkt.KeepAlive) * time.Second
	readTimeout := keepAliveReadTimeout(keepAlive)

	for {
		if readTimeout > 0 {
			nc.SetReadDeadline(time.Now().Add(readTimeout))
		}

		pkt, err := s.readOne(nc, dec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info("client disconnected", slog.String("client_id", c.clientID))
			} else if isTimeout(err) {
				s.log.Warn("keep-alive timeout", slog.String("client_id", c.clientID))
				s.publishAbruptWill(c)
			} else {
				s.log.Debug("read error", slog.String("client_id", c.clientID), slog.Any("error", err))
				s.publishAbruptWill(c)
			}
			return
		}

		if pkt == nil {
			continue
		}

		if _, isDisc := pkt.(*packet.DisconnectPacket); isDisc {
			s.broker.ClearWill(c.clientID) // MQTT-3.1.2-10: graceful DISCONNECT clears the will
			return
		}

		graceful := s.dispatch(c, pkt)
		if !graceful {
			s.publishAbruptWill(c)
			return
		}
	}
}

func (s *Server) publishAbruptWill(c *conn) {
	s.broker.Disconnect(c.clientID, false)
}

func keepAliveReadTimeout(keepAlive time.Duration) time.Duration {
	if keepAlive <= 0 {
		return 0
	}
	d := keepAlive + keepAlive/2
	ceiling := 3600 * time.Second * 3 / 2
	if d > ceiling {
		d = ceiling
	}
	return d
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// readOne blocks until the decoder yields exactly one packet, reading
// more bytes from nc as needed.
func (s *Server) readOne(nc net.Conn, dec *packet.Decoder) (packet.Packet, error) {
	buf := make([]byte, 4096)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			pkts, decErr := dec.Feed(buf[:n])
			if decErr != nil {
				return nil, decErr
			}
			if len(pkts) > 0 {
				return pkts[0], nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *Server) handleConnect(c *conn, p *packet.ConnectPacket) bool {
	var authz session.Authorization
	var authErr error

	if p.UsernameFlag {
		authz, authErr = s.authenticator.Authenticate(p.ClientID, p.Username, string(p.Password))
	} else {
		authz, authErr = s.authenticator.Authenticate(p.ClientID, "", "")
	}

	if authErr != nil {
		s.log.Warn("authentication failed", slog.String("client_id", p.ClientID), slog.Any("error", authErr))
		ack := &packet.ConnAckPacket{ReturnCode: packet.BadUsernameOrPassword}
		c.Write(ack.Encode())
		return false
	}

	var will *session.Will
	if p.WillFlag {
		will = &session.Will{
			Topic:   p.WillTopic,
			Payload: p.WillMessage,
			QoS:     p.WillQoS,
			Retain:  p.WillRetain,
		}
	}

	clientID := p.ClientID
	if clientID == "" {
		// CONNECT decode only rejects an empty client id when
		// CleanSession is false; an empty id with CleanSession=1 asks
		// the broker to assign one.
		clientID = uuid.NewString()
	}

	_, notify, sessionPresent := s.broker.Connect(clientID, p.CleanSession, will, authz, p.KeepAlive)
	c.clientID = clientID
	c.notify = notify

	ack := &packet.ConnAckPacket{SessionPresent: sessionPresent, ReturnCode: packet.ConnectionAccepted}
	if _, err := c.Write(ack.Encode()); err != nil {
		return false
	}
	s.log.Info("client connected", slog.String("client_id", clientID), slog.Bool("clean_session", p.CleanSession))
	return true
}

// dispatch handles one post-CONNECT packet, returning false if the
// connection must be torn down as abrupt (triggering will publication).
func (s *Server) dispatch(c *conn, pkt packet.Packet) bool {
	switch p := pkt.(type) {
	case *packet.PublishPacket:
		if err := s.broker.Publish(c.clientID, p); err != nil {
			s.log.Error("publish failed", slog.Any("error", err))
		}
		switch p.QoS {
		case packet.QoS1:
			if p.PacketID != nil {
				s.broker.EnqueueControl(c.clientID, &packet.PubAckPacket{PacketID: *p.PacketID})
			}
		case packet.QoS2:
			if p.PacketID != nil {
				s.broker.EnqueueControl(c.clientID, &packet.PubRecPacket{PacketID: *p.PacketID})
			}
		}
		return true

	case *packet.PubAckPacket:
		s.broker.AckPubAck(c.clientID, p.PacketID)
		return true

	case *packet.PubRecPacket:
		s.broker.AckPubRec(c.clientID, p.PacketID)
		return true

	case *packet.PubRelPacket:
		s.broker.CompleteIncomingQoS2(c.clientID, p.PacketID)
		s.broker.EnqueueControl(c.clientID, &packet.PubCompPacket{PacketID: p.PacketID})
		return true

	case *packet.PubCompPacket:
		s.broker.AckPubComp(c.clientID, p.PacketID)
		return true

	case *packet.SubscribePacket:
		codes := s.broker.Subscribe(c.clientID, p.Filters)
		s.broker.EnqueueControl(c.clientID, &packet.SubAckPacket{PacketID: p.PacketID, ReturnCodes: codes})
		return true

	case *packet.UnsubscribePacket:
		s.broker.Unsubscribe(c.clientID, p.Filters)
		s.broker.EnqueueControl(c.clientID, &packet.UnsubAckPacket{PacketID: p.PacketID})
		return true

	case *packet.PingReqPacket:
		s.broker.EnqueueControl(c.clientID, &packet.PingRespPacket{})
		return true

	default:
		return true
	}
}

// writeLoop drains the session's outgoing queue to the wire, woken by
// notify whenever new work is enqueued, until ctx is cancelled.
func (s *Server) writeLoop(ctx context.Context, c *conn) {
	for {
		for {
			pkt, id := s.broker.NextOutgoing(c.clientID)
			if pkt == nil {
				break
			}
			if _, err := c.Write(pkt.Encode()); err != nil {
				s.log.Debug("write error", slog.String("client_id", c.clientID), slog.Any("error", err))
				return
			}
			s.broker.MarkSent(c.clientID, id)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.notify:
		case <-time.After(time.Second):
		}
	}
}
