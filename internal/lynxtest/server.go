// Package lynxtest runs an in-process PostgreSQL stub server for driver tests. It speaks enough of the v3 protocol
// to serve the simple and extended query paths and to push notifications, with query responses supplied by the
// test.
package lynxtest

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/jackc/pgproto3/v2"
)

// QueryHandler returns the backend messages to send for sql, excluding the trailing ReadyForQuery. Returning nil
// sends a bare CommandComplete.
type QueryHandler func(sql string) []pgproto3.BackendMessage

// Server is an in-process protocol stub. Every accepted connection is served by its own goroutine until Terminate
// or EOF.
type Server struct {
	ln      net.Listener
	handler QueryHandler

	mu       sync.Mutex
	sessions []*session
	closed   bool
	wg       sync.WaitGroup
}

type session struct {
	conn    net.Conn
	backend *pgproto3.Backend
	writeMu sync.Mutex
}

func (s *session) send(msgs ...pgproto3.BackendMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, msg := range msgs {
		if err := s.backend.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// NewServer starts a stub server on a random loopback port. handler may be nil.
func NewServer(handler QueryHandler) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:")
	if err != nil {
		return nil, err
	}

	s := &Server{ln: ln, handler: handler}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// ConnString returns a connection string for the stub with TLS disabled and environment lookups overridden.
func (s *Server) ConnString() string {
	port := s.ln.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("host=127.0.0.1 port=%d user=lynx password='' dbname=lynxtest sslmode=disable target_session_attrs=any", port)
}

// Close stops accepting and tears down every live session.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sessions := s.sessions
	s.mu.Unlock()

	s.ln.Close()
	for _, sess := range sessions {
		sess.conn.Close()
	}
	s.wg.Wait()
}

// Notify pushes a NotificationResponse to every live session.
func (s *Server) Notify(pid uint32, channel, payload string) error {
	s.mu.Lock()
	sessions := make([]*session, len(s.sessions))
	copy(sessions, s.sessions)
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.send(&pgproto3.NotificationResponse{PID: pid, Channel: channel, Payload: payload}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		sess := &session{
			conn:    conn,
			backend: pgproto3.NewBackend(pgproto3.NewChunkReader(conn), conn),
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.sessions = append(s.sessions, sess)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.serve(sess)
		}()
	}
}

func (s *Server) serve(sess *session) {
	if _, err := sess.backend.ReceiveStartupMessage(); err != nil {
		return
	}

	err := sess.send(
		&pgproto3.AuthenticationOk{},
		&pgproto3.ParameterStatus{Name: "server_version", Value: "14.5"},
		&pgproto3.ParameterStatus{Name: "standard_conforming_strings", Value: "on"},
		&pgproto3.BackendKeyData{ProcessID: 42, SecretKey: 4242},
		&pgproto3.ReadyForQuery{TxStatus: 'I'},
	)
	if err != nil {
		return
	}

	txStatus := byte('I')
	statements := map[string]string{}
	var portalSQL string

	for {
		msg, err := sess.backend.Receive()
		if err == io.EOF {
			return
		} else if err != nil {
			return
		}

		switch msg := msg.(type) {
		case *pgproto3.Query:
			for _, one := range splitStatements(msg.String) {
				txStatus = nextTxStatus(txStatus, one)
				msgs := s.respond(one)
				if err := sess.send(msgs...); err != nil {
					return
				}
				if isErrorResponse(msgs) {
					if txStatus == 'T' {
						txStatus = 'E'
					}
					break
				}
			}
			if err := sess.send(&pgproto3.ReadyForQuery{TxStatus: txStatus}); err != nil {
				return
			}
		case *pgproto3.Parse:
			statements[msg.Name] = msg.Query
			if err := sess.send(&pgproto3.ParseComplete{}); err != nil {
				return
			}
		case *pgproto3.Describe:
			if msg.ObjectType == 'S' {
				if err := sess.send(&pgproto3.ParameterDescription{}); err != nil {
					return
				}
			}
		case *pgproto3.Bind:
			portalSQL = statements[msg.PreparedStatement]
			if err := sess.send(&pgproto3.BindComplete{}); err != nil {
				return
			}
		case *pgproto3.Execute:
			txStatus = nextTxStatus(txStatus, portalSQL)
			msgs := s.respond(portalSQL)
			if err := sess.send(msgs...); err != nil {
				return
			}
			if isErrorResponse(msgs) && txStatus == 'T' {
				txStatus = 'E'
			}
		case *pgproto3.Sync:
			if err := sess.send(&pgproto3.ReadyForQuery{TxStatus: txStatus}); err != nil {
				return
			}
		case *pgproto3.Close:
			if msg.ObjectType == 'S' {
				delete(statements, msg.Name)
			}
			if err := sess.send(&pgproto3.CloseComplete{}); err != nil {
				return
			}
		case *pgproto3.Terminate:
			return
		}
	}
}

func (s *Server) respond(sql string) []pgproto3.BackendMessage {
	if s.handler != nil {
		if msgs := s.handler(sql); msgs != nil {
			return msgs
		}
	}
	return []pgproto3.BackendMessage{&pgproto3.CommandComplete{CommandTag: []byte(defaultTag(sql))}}
}

func defaultTag(sql string) string {
	head := strings.ToUpper(firstWord(sql))
	switch head {
	case "SELECT", "FETCH", "MOVE":
		return head + " 0"
	default:
		return head
	}
}

func firstWord(sql string) string {
	fields := strings.Fields(strings.TrimSpace(sql))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// nextTxStatus tracks the transaction marker the stub reports in ReadyForQuery.
func nextTxStatus(cur byte, sql string) byte {
	switch strings.ToLower(firstWord(sql)) {
	case "begin", "start":
		return 'T'
	case "commit", "rollback":
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(sql)), "rollback to") {
			return 'T'
		}
		return 'I'
	default:
		return cur
	}
}

func isErrorResponse(msgs []pgproto3.BackendMessage) bool {
	for _, m := range msgs {
		if _, ok := m.(*pgproto3.ErrorResponse); ok {
			return true
		}
	}
	return false
}

// splitStatements naively splits a simple-protocol multi-statement string. Quoted semicolons are not handled; stub
// tests do not use them.
func splitStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = append(out, "")
	}
	return out
}
