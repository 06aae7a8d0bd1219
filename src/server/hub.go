package server

import (
	"encoding/json"
	"net/http"
	"time"

	"tickfeed/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const snapshotSize = 50

// clientReply is an event for a single client, delivered by the hub loop.
type clientReply struct {
	client *Client
	event  models.MHubEvent
}

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// handleWebsockets is the main Hub loop
func (s *APIServer) handleWebsockets() {
	for {
		select {
		case <-s.done:
			for client := range s.clients {
				delete(s.clients, client)
				close(client.send)
			}
			s.connections.Store(0)
			return

		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.connections.Store(int32(len(s.clients)))
			// Send the recent reports on connect
			client.send <- s.snapshot(nil)

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
				s.connections.Store(int32(len(s.clients)))
			}

		case r := <-s.replies:
			if _, ok := s.clients[r.client]; ok {
				select {
				case r.client.send <- r.event:
				default:
				}
			}

		case event := <-s.broadcast:
			for client := range s.clients {
				if event.Report != nil && !client.wants(event.Report.Dataset) {
					continue
				}
				select {
				case client.send <- event:
				default:
					// Client too slow, disconnect to prevent Hub blocking
					delete(s.clients, client)
					close(client.send)
				}
			}
			s.connections.Store(int32(len(s.clients)))
		}
	}
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// RecordReport keeps report for the status endpoints.
func (s *APIServer) RecordReport(report models.MCycleReport) {
	s.Reports.Add(report)
	s.lastUpdate.Store(report.FinishedAt.UnixMilli())
}

// -----------------------------------------------------------------------------

// Broadcast queues event for every subscribed client. Events are dropped when
// the queue is full or the server is stopped.
func (s *APIServer) Broadcast(event models.MHubEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	select {
	case <-s.done:
	case s.broadcast <- event:
	default:
		s.Logger.Warning("Broadcast queue full, dropping %s event", event.Type)
	}
}

// -----------------------------------------------------------------------------

func (s *APIServer) snapshot(datasets []string) models.MHubEvent {
	var reports []models.MCycleReport
	if len(datasets) == 0 {
		reports = s.Reports.Latest("", snapshotSize)
	} else {
		for _, d := range datasets {
			reports = append(reports, s.Reports.Latest(d, snapshotSize)...)
		}
	}
	if reports == nil {
		reports = []models.MCycleReport{}
	}
	return models.MHubEvent{
		Type:      "SNAPSHOT",
		Reports:   filterReports(reports, datasets),
		Timestamp: time.Now().UnixMilli(),
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *APIServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:  s,
		conn: conn,
		// Buffered channel to prevent blocking the Hub loop
		send: make(chan models.MHubEvent, 256),
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

// HandleClientMessage applies a subscribe or unsubscribe command and answers
// with a snapshot of the selected datasets.
func (s *APIServer) HandleClientMessage(client *Client, message []byte) {
	var cmd models.MSubscribeCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Info("Failed to parse client command: %v, disconnecting client", err)
		client.conn.Close()
		return
	}

	switch cmd.Command {
	case "subscribe":
		client.subscribe(cmd.Datasets)
	case "unsubscribe":
		client.subscribe(nil)
	default:
		return
	}

	select {
	case s.replies <- clientReply{client: client, event: s.snapshot(client.subscriptions())}:
	case <-s.done:
	}
}
