package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/picklereef/pi-touch/internal/wstrace"
	"github.com/picklereef/pi-touch/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // modules connect from the local network
	},
}

// moduleConn is one live module WebSocket connection. Writes go through
// sendCh so the write pump owns the socket's write side.
type moduleConn struct {
	conn    *websocket.Conn
	sendCh  chan []byte
	closeCh chan struct{}
	closed  bool
	closeMu sync.Mutex
}

// SendJSON queues a payload for delivery. It fails when the connection is
// closed or the send buffer is full.
func (mc *moduleConn) SendJSON(payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	mc.closeMu.Lock()
	closed := mc.closed
	mc.closeMu.Unlock()
	if closed {
		return fmt.Errorf("connection closed")
	}

	select {
	case mc.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (mc *moduleConn) close() {
	mc.closeMu.Lock()
	defer mc.closeMu.Unlock()
	if mc.closed {
		return
	}
	mc.closed = true
	close(mc.closeCh)
	mc.conn.Close()
}

// handleModuleWS is the bidirectional bridge for hardware modules.
func (s *Server) handleModuleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	remoteIP := c.Request.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}
	s.log.Info().Str("remote", remoteIP).Msg("module connected")

	mc := &moduleConn{
		conn:    conn,
		sendCh:  make(chan []byte, 64),
		closeCh: make(chan struct{}),
	}
	go s.writePump(mc)

	// Ask the module for its config and manifest right away so the store
	// is populated even before the first periodic status frame.
	for _, frameType := range []protocol.FrameType{protocol.FrameConfigRequest, protocol.FrameManifestRequestOut} {
		request := map[string]any{"type": string(frameType)}
		if err := mc.SendJSON(request); err != nil {
			s.log.Warn().Err(err).Msg("initial request send failed")
			break
		}
		s.trace.Record(wstrace.DirectionTX, request, "")
	}

	s.readPump(mc, remoteIP)
}

func (s *Server) writePump(mc *moduleConn) {
	ticker := time.NewTicker(protocol.WSPingPeriod)
	defer func() {
		ticker.Stop()
		mc.conn.Close()
	}()

	for {
		select {
		case message := <-mc.sendCh:
			mc.conn.SetWriteDeadline(time.Now().Add(protocol.WSWriteWait))
			if err := mc.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}

		case <-ticker.C:
			mc.conn.SetWriteDeadline(time.Now().Add(protocol.WSWriteWait))
			if err := mc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-mc.closeCh:
			return
		}
	}
}

func (s *Server) readPump(mc *moduleConn, remoteIP string) {
	moduleID := ""
	defer func() {
		mc.close()
		if moduleID != "" {
			s.manager.Unregister(moduleID, mc)
			if err := s.service.MarkOffline(moduleID); err != nil {
				s.log.Warn().Err(err).Str("module", moduleID).Msg("failed to mark module offline")
			}
		}
		s.log.Info().Str("module", orUnknown(moduleID)).Msg("module disconnected")
	}()

	mc.conn.SetReadLimit(protocol.WSMaxMessageSize)
	mc.conn.SetReadDeadline(time.Now().Add(protocol.WSPongWait))
	mc.conn.SetPongHandler(func(string) error {
		mc.conn.SetReadDeadline(time.Now().Add(protocol.WSPongWait))
		return nil
	})

	for {
		_, data, err := mc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var message map[string]any
		if err := json.Unmarshal(data, &message); err != nil {
			s.log.Debug().Err(err).Msg("dropping non-JSON frame")
			continue
		}

		frameType, payload := protocol.Normalize(message)
		if resolved := protocol.ResolveModuleID(payload, moduleID); resolved != protocol.UnknownModuleID {
			moduleID = resolved
		}
		if frameType == protocol.FrameStatus {
			s.trace.RecordForced(wstrace.DirectionRX, message, moduleID)
		} else {
			s.trace.Record(wstrace.DirectionRX, message, moduleID)
		}

		moduleID = s.dispatchFrame(mc, frameType, payload, moduleID, remoteIP)
	}
}

// dispatchFrame applies one normalized frame and returns the current module
// identity, which a status frame may establish.
func (s *Server) dispatchFrame(mc *moduleConn, frameType protocol.FrameType, payload map[string]any, moduleID, remoteIP string) string {
	switch frameType {
	case protocol.FrameStatus:
		module, err := s.service.UpsertStatus(payload, remoteIP)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to apply status frame")
			return moduleID
		}
		s.manager.Register(module.ModuleID, mc)
		return module.ModuleID

	case protocol.FrameConfigRequest:
		if moduleID == "" {
			return moduleID
		}
		response := protocol.DefaultModuleConfig(moduleID)
		if err := mc.SendJSON(response); err != nil {
			s.log.Warn().Err(err).Str("module", moduleID).Msg("config response send failed")
			return moduleID
		}
		s.trace.Record(wstrace.DirectionTX, response, moduleID)

	case protocol.FrameConfig:
		if moduleID == "" {
			return moduleID
		}
		if err := s.service.UpsertConfig(moduleID, payload); err != nil {
			s.log.Warn().Err(err).Str("module", moduleID).Msg("failed to store config")
		}

	case protocol.FrameModuleManifest:
		if err := s.service.RecordManifest(moduleID, payload); err != nil {
			s.log.Warn().Err(err).Str("module", orUnknown(moduleID)).Msg("failed to store manifest")
		}

	case protocol.FrameCycleLog:
		if _, err := s.service.RecordCycle(payload); err != nil {
			s.log.Warn().Err(err).Str("module", orUnknown(moduleID)).Msg("failed to store cycle")
		}

	case protocol.FrameAlarm:
		if err := s.service.RecordAlarm(payload, moduleID); err != nil {
			s.log.Warn().Err(err).Str("module", orUnknown(moduleID)).Msg("failed to store alarm")
		}

	case protocol.FrameSpoolActivations:
		if err := s.service.ApplySpoolActivations(payload, moduleID); err != nil {
			s.log.Warn().Err(err).Str("module", orUnknown(moduleID)).Msg("failed to apply spool activations")
		}

	case protocol.FrameATOActivations:
		if err := s.service.ApplyATOActivations(payload, moduleID); err != nil {
			s.log.Warn().Err(err).Str("module", orUnknown(moduleID)).Msg("failed to apply ato activations")
		}

	default:
		s.log.Debug().Str("type", string(frameType)).Msg("unhandled module frame")
	}
	return moduleID
}

func orUnknown(moduleID string) string {
	if moduleID == "" {
		return protocol.UnknownModuleID
	}
	return moduleID
}
