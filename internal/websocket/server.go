// Package websocket pushes ledger notifications (confirmations, rollbacks)
// to subscribed clients. It implements the node's Notifier collaborator and
// is intentionally thin.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stjet/gobanano/internal/core"
	"github.com/stjet/gobanano/pkg/logging"
)

// Topic names.
const (
	TopicConfirmation = "confirmation"
	TopicRollback     = "rollback"
)

// subscribeRequest is the client -> server control message.
type subscribeRequest struct {
	Action  string `json:"action"`
	Topic   string `json:"topic"`
	Options struct {
		Accounts []string `json:"accounts"`
	} `json:"options"`
}

// event is the server -> client notification envelope.
type event struct {
	Topic   string      `json:"topic"`
	Time    int64       `json:"time"`
	Message interface{} `json:"message"`
}

type session struct {
	conn *websocket.Conn

	mu     sync.Mutex
	topics map[string]bool
	// accounts filters confirmations; empty means all.
	accounts map[string]bool
}

func (s *session) subscribed(topic string, account core.Account) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.topics[topic] {
		return false
	}
	if topic == TopicConfirmation && len(s.accounts) > 0 {
		return s.accounts[account.String()]
	}
	return true
}

// Server is the websocket notification fan-out.
type Server struct {
	listen   string
	log      *logging.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu       sync.Mutex
	sessions map[*session]bool
}

// NewServer creates a stopped notification server.
func NewServer(listen string) *Server {
	return &Server{
		listen:   listen,
		log:      logging.GetDefault().Component("websocket"),
		sessions: make(map[*session]bool),
	}
}

// Start begins accepting websocket clients.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleConn)
	s.server = &http.Server{Addr: s.listen, Handler: mux}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("Websocket server failed", "error", err)
		}
	}()
	s.log.Info("Websocket server listening", "addr", s.listen)
	return nil
}

// Stop closes all sessions and the listener.
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	s.mu.Lock()
	for sess := range s.sessions {
		_ = sess.conn.Close()
	}
	s.sessions = make(map[*session]bool)
	s.mu.Unlock()
}

func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := &session{
		conn:     conn,
		topics:   make(map[string]bool),
		accounts: make(map[string]bool),
	}
	s.mu.Lock()
	s.sessions[sess] = true
	s.mu.Unlock()

	go s.readLoop(sess)
}

func (s *Server) readLoop(sess *session) {
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		_ = sess.conn.Close()
	}()

	for {
		var req subscribeRequest
		if err := sess.conn.ReadJSON(&req); err != nil {
			return
		}

		sess.mu.Lock()
		switch req.Action {
		case "subscribe":
			sess.topics[req.Topic] = true
			for _, account := range req.Options.Accounts {
				sess.accounts[account] = true
			}
		case "unsubscribe":
			delete(sess.topics, req.Topic)
		}
		sess.mu.Unlock()
	}
}

// confirmationMessage carries the block JSON with its account and hash.
type confirmationMessage struct {
	Account string          `json:"account"`
	Hash    string          `json:"hash"`
	Block   json.RawMessage `json:"block"`
}

// BlockConfirmed pushes a confirmation event to matching subscribers.
func (s *Server) BlockConfirmed(block core.Block) {
	raw, err := block.MarshalJSON()
	if err != nil {
		return
	}
	account := block.Sideband().Account
	s.broadcast(TopicConfirmation, account, confirmationMessage{
		Account: account.String(),
		Hash:    block.Hash().String(),
		Block:   raw,
	})
}

type rollbackMessage struct {
	SubType string `json:"subtype"`
}

// BlockRolledBack pushes a rollback event to subscribers.
func (s *Server) BlockRolledBack(subType core.BlockSubType) {
	s.broadcast(TopicRollback, core.Account{}, rollbackMessage{SubType: subType.String()})
}

func (s *Server) broadcast(topic string, account core.Account, message interface{}) {
	payload := event{Topic: topic, Time: time.Now().UnixMilli(), Message: message}

	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if !sess.subscribed(topic, account) {
			continue
		}
		_ = sess.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := sess.conn.WriteJSON(payload); err != nil {
			s.mu.Lock()
			delete(s.sessions, sess)
			s.mu.Unlock()
			_ = sess.conn.Close()
		}
	}
}
