package server

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dalang-app/dalang/internal/auth"
	"github.com/dalang-app/dalang/internal/protocol"
	"github.com/dalang-app/dalang/internal/server/project"
)

const closeWriteTimeout = 5 * time.Second

// errSessionDone signals the read loop that the session has been torn
// down; the cause has already been logged by the time it propagates.
var errSessionDone = errors.New("session done")

// Session is one client connection. Its read loop is the only goroutine
// that touches the connection or the session's state, so replies go out in
// the order the packets that caused them were processed.
type Session struct {
	id     string
	conn   *websocket.Conn
	server *Server
	logger *logrus.Entry
	ctx    context.Context

	authenticated bool
	userID        uint64
}

func newSession(server *Server, conn *websocket.Conn) *Session {
	id := newSessionID()
	return &Session{
		id:     id,
		conn:   conn,
		server: server,
		logger: server.logger.WithField("session_id", id),
		ctx:    context.Background(),
	}
}

// run drives the session until the connection dies or a protocol
// violation ends it. The version handshake goes out before any packet
// traffic in either direction.
func (s *Session) run() {
	defer func() { _ = s.conn.Close() }()

	s.logger.Info("client connected, sending protocol version")

	handshake, err := protocol.VersionHandshakePacket()
	if err != nil {
		s.logger.Errorf("error building version handshake: %v", err)
		s.closeWith(websocket.CloseInternalServerErr, "")
		return
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, handshake); err != nil {
		s.logger.Warnf("error sending version handshake: %v", err)
		return
	}

	// Pings are answered by gorilla's default ping handler; close frames
	// surface from ReadMessage as a CloseError after the default handler
	// echoes them.
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				s.logger.Infof("client closed the connection with code %d: %s", closeErr.Code, closeErr.Text)
			} else {
				s.logger.Warnf("error reading from connection: %v", err)
			}
			return
		}

		if messageType != websocket.BinaryMessage {
			s.logger.Info("received a text frame, disconnecting")
			s.closeWith(websocket.CloseUnsupportedData, "expected a binary message")
			return
		}

		packet, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warnf("protocol violation, disconnecting: %v", err)
			s.closeWith(websocket.CloseProtocolError, err.Error())
			return
		}

		s.server.metrics.packetsTotal.WithLabelValues(packet.Category.String()).Inc()
		if s.server.config.Debugging.PacketLoggingEnabled {
			s.logger.Debug(spew.Sdump(packet))
		}

		if err := s.processPacket(packet); err != nil {
			return
		}
	}
}

func (s *Session) processPacket(packet *protocol.ClientPacket) error {
	switch packet.Category {
	case protocol.CategoryAuthentication:
		return s.handleAuthentication(packet)
	case protocol.CategoryUser:
		return s.handleUser(packet)
	case protocol.CategoryEditor:
		return s.handleEditor(packet)
	}
	// Decode only produces the categories above.
	return s.closeUnhandled(packet)
}

// handleAuthentication serves the Authentication category, which is
// reachable in any session state.
func (s *Session) handleAuthentication(packet *protocol.ClientPacket) error {
	switch packet.Opcode {
	case protocol.ClientAuthSuccessResp:
		return nil

	case protocol.ClientAuthLogin:
		if s.authenticated {
			return s.sendAuth(protocol.ServerAuthErrAlreadyLoggedIn, nil)
		}
		payload := packet.Payload.(protocol.Login)
		grant, err := s.server.authenticator.Login(s.ctx, payload.Username, payload.Password)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidCredentials) {
				s.logger.Warnf("login backend failure: %v", err)
			}
			return s.sendAuth(protocol.ServerAuthLoginFailedInvalid, nil)
		}
		return s.grantLogin(grant)

	case protocol.ClientAuthLoginWithToken:
		if s.authenticated {
			return s.sendAuth(protocol.ServerAuthErrAlreadyLoggedIn, nil)
		}
		payload := packet.Payload.(protocol.LoginWithToken)
		grant, err := s.server.authenticator.LoginToken(s.ctx, payload.Token)
		if err != nil {
			if !errors.Is(err, auth.ErrTokenExpired) {
				s.logger.Warnf("token login backend failure: %v", err)
			}
			return s.sendAuth(protocol.ServerAuthLoginFailedTokenExpired, nil)
		}
		return s.grantLogin(grant)

	case protocol.ClientAuthRegister:
		if s.authenticated {
			return s.sendAuth(protocol.ServerAuthErrAlreadyLoggedIn, nil)
		}
		if !s.server.config.Auth.AllowRegistration {
			return s.sendAuth(protocol.ServerAuthRegisterFailedDisabled, nil)
		}
		payload := packet.Payload.(protocol.Register)
		grant, err := s.server.authenticator.Register(s.ctx, payload.Username, payload.Password)
		if err != nil {
			if !errors.Is(err, auth.ErrUsernameTaken) {
				s.logger.Warnf("register backend failure: %v", err)
			}
			return s.sendAuth(protocol.ServerAuthRegisterFailedUsernameTaken, nil)
		}
		return s.grantLogin(grant)

	case protocol.ClientAuthRegisterCheckEnabled:
		if s.server.config.Auth.AllowRegistration {
			return s.sendAuth(protocol.ServerAuthSuccessResp, nil)
		}
		return s.sendAuth(protocol.ServerAuthRegisterFailedDisabled, nil)

	case protocol.ClientAuthUsernameCheckExists:
		// Not specified upstream yet; acknowledged without a lookup.
		return s.sendAuth(protocol.ServerAuthSuccessResp, nil)

	case protocol.ClientAuthLogout:
		s.authenticated = false
		s.userID = 0
		return s.sendAuth(protocol.ServerAuthSuccessResp, nil)
	}

	return s.closeUnhandled(packet)
}

// grantLogin transitions the session to authenticated and hands the
// client its token. Registration logs in the new account immediately.
func (s *Session) grantLogin(grant *auth.Grant) error {
	s.authenticated = true
	s.userID = grant.UserID
	s.logger.Infof("authenticated as user %d", grant.UserID)
	return s.sendAuth(protocol.ServerAuthLoginSuccess, protocol.LoginSuccess{Token: grant.Token})
}

func (s *Session) handleUser(packet *protocol.ClientPacket) error {
	if !s.authenticated {
		return s.sendUser(protocol.ServerUserErrNotAuthenticated, nil)
	}

	switch packet.Opcode {
	case protocol.ClientUserSuccessResp:
		return nil

	case protocol.ClientUserGetUsername:
		username, err := s.server.authenticator.GetUser(s.ctx, s.userID)
		if err != nil {
			s.logger.Warnf("error looking up username for user %d: %v", s.userID, err)
			return nil
		}
		return s.sendUser(protocol.ServerUserUsernameResp, protocol.UsernameResp{Username: username})

	case protocol.ClientUserRetrieveProjects:
		projects, err := project.ListByOwner(s.server.db, s.userID)
		if err != nil {
			s.logger.Warnf("error listing projects for user %d: %v", s.userID, err)
			return nil
		}
		return s.sendProjectList(projects)

	case protocol.ClientUserRetrieveProjectsPaged:
		payload := packet.Payload.(protocol.RetrieveProjectsPaged)
		projects, err := project.ListByOwnerPaged(s.server.db, s.userID, payload.Offset, payload.Count)
		if err != nil {
			s.logger.Warnf("error listing projects for user %d: %v", s.userID, err)
			return nil
		}
		return s.sendProjectList(projects)

	case protocol.ClientUserRetrieveProjectsTotal:
		total, err := project.CountByOwner(s.server.db, s.userID)
		if err != nil {
			s.logger.Warnf("error counting projects for user %d: %v", s.userID, err)
			return nil
		}
		return s.sendUser(protocol.ServerUserProjectsTotalResp, protocol.ProjectsTotalResp{Total: total})

	case protocol.ClientUserRetrieveProjectImage:
		payload := packet.Payload.(protocol.RetrieveProjectImage)
		data, err := project.FindImage(s.server.db, payload.ImageID)
		if err != nil {
			if !errors.Is(err, project.ErrImageNotFound) {
				s.logger.Warnf("error loading image %d: %v", payload.ImageID, err)
				return nil
			}
			data = []byte{}
		}
		return s.sendUser(protocol.ServerUserProjectImageResp, protocol.ProjectImageResp{Data: data})

	case protocol.ClientUserOpenProject:
		s.server.markEditing(s)
		return s.send(protocol.ServerPacket{
			Category: protocol.CategoryEditor,
			Opcode:   protocol.ServerEditorSuccessResp,
		})
	}

	return s.closeUnhandled(packet)
}

func (s *Session) handleEditor(packet *protocol.ClientPacket) error {
	if !s.authenticated {
		return s.send(protocol.ServerPacket{
			Category: protocol.CategoryEditor,
			Opcode:   protocol.ServerEditorErrNotAuthenticated,
		})
	}

	switch packet.Opcode {
	case protocol.ClientEditorSuccessResp:
		return nil
	}

	return s.closeUnhandled(packet)
}

func (s *Session) sendAuth(opcode uint16, payload any) error {
	return s.send(protocol.ServerPacket{
		Category: protocol.CategoryAuthentication,
		Opcode:   opcode,
		Payload:  payload,
	})
}

func (s *Session) sendUser(opcode uint16, payload any) error {
	return s.send(protocol.ServerPacket{
		Category: protocol.CategoryUser,
		Opcode:   opcode,
		Payload:  payload,
	})
}

func (s *Session) sendProjectList(projects []project.Project) error {
	listing := make([]protocol.Project, 0, len(projects))
	for _, p := range projects {
		listing = append(listing, protocol.Project{
			ID:       p.ID,
			Title:    p.Title,
			LastEdit: p.LastEdit,
			Created:  p.Created,
			ImageID:  p.ImageID,
		})
	}
	return s.sendUser(protocol.ServerUserProjectsListResp, protocol.ProjectsListResp{Projects: listing})
}

// send encodes and writes one server packet. A write failure means the
// connection is gone: the result is discarded and the loop unwinds.
func (s *Session) send(packet protocol.ServerPacket) error {
	data, err := protocol.Encode(packet)
	if err != nil {
		s.logger.Errorf("error encoding response: %v", err)
		s.closeWith(websocket.CloseInternalServerErr, "")
		return errSessionDone
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.logger.Debugf("discarding response for closed connection: %v", err)
		return errSessionDone
	}
	return nil
}

// closeUnhandled ends the session for a decodable opcode the server has
// no behavior for. Dropping it silently would leave the client waiting.
func (s *Session) closeUnhandled(packet *protocol.ClientPacket) error {
	s.logger.Warnf("no handler for opcode 0x%04x in category %s, disconnecting", packet.Opcode, packet.Category)
	s.closeWith(websocket.CloseProtocolError, fmt.Sprintf("unhandled opcode 0x%04x", packet.Opcode))
	return errSessionDone
}

// closeWith sends a close frame with the given code and reason. Control
// frame payloads are capped at 125 bytes, so long reasons are truncated.
func (s *Session) closeWith(code int, reason string) {
	message := websocket.FormatCloseMessage(code, truncateCloseReason(reason))
	if err := s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeWriteTimeout)); err != nil {
		s.logger.Debugf("error writing close frame: %v", err)
	}
}

// maxCloseReasonLen is the 125-byte control frame cap minus the two-byte
// close code.
const maxCloseReasonLen = 123

// truncateCloseReason cuts a close reason down to the control frame cap
// without splitting a multi-byte UTF-8 sequence; close reasons must be
// valid UTF-8.
func truncateCloseReason(reason string) string {
	if len(reason) <= maxCloseReasonLen {
		return reason
	}
	cut := maxCloseReasonLen
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
