// internal/gateway/gateway.go
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sachiniyer/meal-finder/internal/run"
	"github.com/sachiniyer/meal-finder/internal/state"
	"github.com/sachiniyer/meal-finder/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

// inboundFrame is a client request over the websocket.
type inboundFrame struct {
	Type     string          `json:"type"`
	ChatID   string          `json:"chat_id,omitempty"`
	Content  string          `json:"content,omitempty"`
	Location *types.Location `json:"location,omitempty"`
}

// outboundFrame is a server message to a client. Only the fields for
// the frame's type are set.
type outboundFrame struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id,omitempty"`
	Content  string `json:"content,omitempty"`
	ToolData string `json:"tool_data,omitempty"`
	Error    string `json:"error,omitempty"`

	Chats    []*types.ConversationIndex `json:"chats,omitempty"`
	Messages []*types.Message           `json:"messages,omitempty"`
	ChatData *chatData                  `json:"chat_data,omitempty"`
}

// chatData is the full conversation view sent for get_chat_data.
type chatData struct {
	*types.Conversation
	PlaceSummaries []*types.PlaceSummary `json:"place_summaries,omitempty"`
}

// conn is one connected client.
type conn struct {
	id   types.ConnID
	ws   *websocket.Conn
	send chan outboundFrame

	mu     sync.Mutex
	closed bool
}

// trySend queues a frame for the client, dropping it if the client's
// buffer is full or the connection is gone. Dropped frames are
// recoverable: the durable state lives in the stores and can be
// re-fetched.
func (c *conn) trySend(frame outboundFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend shuts the send channel. The closed flag keeps a broadcast
// that raced the disconnect from sending on the closed channel.
func (c *conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Gateway bridges websocket clients to conversations and runs. Clients
// join a conversation by sending into it; every member of a
// conversation receives its assistant messages and tool progress.
type Gateway struct {
	conversations types.ConversationStore
	places        types.PlaceStore
	coordinator   *run.Coordinator
	logger        *slog.Logger

	mu       sync.Mutex
	conns    map[types.ConnID]*conn
	members  map[types.ConversationID]map[types.ConnID]*conn
	lastChat map[types.ConnID]types.ConversationID
}

// New creates a gateway.
func New(conversations types.ConversationStore, places types.PlaceStore, coordinator *run.Coordinator, logger *slog.Logger) *Gateway {
	return &Gateway{
		conversations: conversations,
		places:        places,
		coordinator:   coordinator,
		logger:        logger.With("component", "gateway"),
		conns:         make(map[types.ConnID]*conn),
		members:       make(map[types.ConversationID]map[types.ConnID]*conn),
		lastChat:      make(map[types.ConnID]types.ConversationID),
	}
}

// HandleConn serves one websocket client until it disconnects. An
// active run is never cancelled by its submitter disconnecting.
func (g *Gateway) HandleConn(ctx context.Context, ws *websocket.Conn) {
	c := &conn{
		id:   types.NewConnID(),
		ws:   ws,
		send: make(chan outboundFrame, sendBuffer),
	}

	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
	g.logger.Info("client connected", "conn_id", c.id)

	go g.writePump(c)
	g.readPump(ctx, c)

	g.mu.Lock()
	delete(g.conns, c.id)
	delete(g.lastChat, c.id)
	for convID, members := range g.members {
		delete(members, c.id)
		if len(members) == 0 {
			delete(g.members, convID)
		}
	}
	g.mu.Unlock()
	c.closeSend()
	g.logger.Info("client disconnected", "conn_id", c.id)
}

func (g *Gateway) readPump(ctx context.Context, c *conn) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn("read error", "conn_id", c.id, "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.sendError(c, "", "invalid frame: "+err.Error())
			continue
		}
		g.handleFrame(ctx, c, frame)
	}
}

func (g *Gateway) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) handleFrame(ctx context.Context, c *conn, frame inboundFrame) {
	switch frame.Type {
	case "send_message":
		g.handleSendMessage(ctx, c, frame)
	case "get_chats":
		g.handleGetChats(ctx, c)
	case "get_messages":
		g.handleGetMessages(ctx, c, frame)
	case "get_chat_data":
		g.handleGetChatData(ctx, c, frame)
	default:
		g.sendError(c, frame.ChatID, "unknown frame type: "+frame.Type)
	}
}

func (g *Gateway) handleSendMessage(ctx context.Context, c *conn, frame inboundFrame) {
	if frame.Content == "" {
		g.sendError(c, frame.ChatID, "message content is required")
		return
	}

	convID := types.ConversationID(frame.ChatID)
	if convID == "" {
		conv, err := g.conversations.Create(ctx, frame.Location)
		if err != nil {
			g.sendError(c, "", err.Error())
			return
		}
		convID = conv.ConversationID
		g.logger.Info("created conversation", "conversation_id", convID, "conn_id", c.id)
	}

	g.join(c, convID)

	// The coordinator persists the message only once the run slot is
	// claimed; a rejected send leaves the history untouched.
	userMsg := &types.Message{Role: types.RoleUser, Content: frame.Content}
	r, err := g.coordinator.Submit(ctx, convID, userMsg)
	if err != nil {
		if errors.Is(err, run.ErrRunActive) {
			g.sendError(c, string(convID), "a response is already in progress for this chat")
		} else {
			g.sendError(c, string(convID), notFoundMessage(err))
		}
		return
	}

	go g.forwardEvents(r)
}

// forwardEvents relays a run's events to whoever is a member of the
// conversation when each event fires. Runs outlive connections; if
// nobody is connected the events are dropped and the result is picked
// up from the store on the next get_messages.
func (g *Gateway) forwardEvents(r *run.Run) {
	for ev := range r.Events() {
		var frame outboundFrame
		switch ev.Type {
		case run.EventAssistantMessage:
			frame = outboundFrame{
				Type:    "message",
				ChatID:  string(ev.ConversationID),
				Content: ev.Message.Content,
			}
		case run.EventToolCall:
			frame = outboundFrame{
				Type:     "tool_call",
				ChatID:   string(ev.ConversationID),
				ToolData: ev.Notice,
			}
		case run.EventError:
			frame = outboundFrame{
				Type:   "error",
				ChatID: string(ev.ConversationID),
				Error:  ev.Err,
			}
		default:
			continue
		}
		g.broadcast(ev.ConversationID, frame)
	}
}

func (g *Gateway) handleGetChats(ctx context.Context, c *conn) {
	chats, err := g.conversations.List(ctx)
	if err != nil {
		g.sendError(c, "", err.Error())
		return
	}
	c.trySend(outboundFrame{Type: "chats", Chats: chats})
}

func (g *Gateway) handleGetMessages(ctx context.Context, c *conn, frame inboundFrame) {
	if frame.ChatID == "" {
		g.sendError(c, "", "chat_id is required")
		return
	}
	convID := types.ConversationID(frame.ChatID)

	conv, err := g.conversations.Get(ctx, convID)
	if err != nil {
		g.sendError(c, frame.ChatID, notFoundMessage(err))
		return
	}

	g.join(c, convID)
	c.trySend(outboundFrame{
		Type:     "messages",
		ChatID:   frame.ChatID,
		Messages: conv.Messages,
	})
}

func (g *Gateway) handleGetChatData(ctx context.Context, c *conn, frame inboundFrame) {
	if frame.ChatID == "" {
		g.sendError(c, "", "chat_id is required")
		return
	}
	convID := types.ConversationID(frame.ChatID)

	conv, err := g.conversations.Get(ctx, convID)
	if err != nil {
		g.sendError(c, frame.ChatID, notFoundMessage(err))
		return
	}

	summaries, err := g.places.Summaries(ctx, conv.Places)
	if err != nil {
		g.sendError(c, frame.ChatID, err.Error())
		return
	}

	g.join(c, convID)
	c.trySend(outboundFrame{
		Type:   "chat_data",
		ChatID: frame.ChatID,
		ChatData: &chatData{
			Conversation:   conv,
			PlaceSummaries: summaries,
		},
	})
}

// join adds the connection to the conversation's member set.
func (g *Gateway) join(c *conn, convID types.ConversationID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.members[convID] == nil {
		g.members[convID] = make(map[types.ConnID]*conn)
	}
	g.members[convID][c.id] = c
	g.lastChat[c.id] = convID
}

// broadcast sends a frame to every member of a conversation.
func (g *Gateway) broadcast(convID types.ConversationID, frame outboundFrame) {
	g.mu.Lock()
	members := make([]*conn, 0, len(g.members[convID]))
	for _, member := range g.members[convID] {
		members = append(members, member)
	}
	g.mu.Unlock()

	for _, member := range members {
		if !member.trySend(frame) {
			g.logger.Debug("dropped frame for slow client", "conn_id", member.id, "type", frame.Type)
		}
	}
}

func (g *Gateway) sendError(c *conn, chatID, msg string) {
	if chatID == "" {
		g.mu.Lock()
		chatID = string(g.lastChat[c.id])
		g.mu.Unlock()
	}
	c.trySend(outboundFrame{Type: "error", ChatID: chatID, Error: msg})
}

// notFoundMessage normalizes store lookup failures for client display.
func notFoundMessage(err error) string {
	if errors.Is(err, state.ErrConversationNotFound) {
		return "chat not found"
	}
	return err.Error()
}
