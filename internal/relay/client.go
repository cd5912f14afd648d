// Package relay talks to the hit coordination server: it registers this car,
// reports booms and turns the server's broadcasts into cached-latest streams.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/frogdesign/akart/internal/logger"
	"github.com/frogdesign/akart/internal/telemetry"
)

// Event names on the wire
const (
	EventRegister = "register"
	EventBoom     = "boom"
	EventSetGame  = "set game"
	EventPlayers  = "players"
	EventHit      = "hit"
	EventSpeed    = "speed"
)

const writeTimeout = 5 * time.Second

// ErrClosed is returned when writing to a closed client
var ErrClosed = errors.New("relay: client closed")

// Message is one websocket text frame
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type target struct {
	ID string `json:"id"`
}

// Client is a connection to the relay. Inbound events are published on the
// exported cells once Run is going.
type Client struct {
	name string
	conn *websocket.Conn

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool

	// Game carries the game on/off state
	Game *telemetry.Latest[bool]
	// Players carries the registered player names
	Players *telemetry.Latest[[]string]
	// Speed carries the max speed percentage the server allows
	Speed *telemetry.Latest[int]
	// Hits counts the hits this car has taken
	Hits *telemetry.Latest[uint64]

	hits uint64
}

// Dial connects to url and registers as name
func Dial(ctx context.Context, url, name string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay %s: %w", url, err)
	}

	c := &Client{
		name:    name,
		conn:    conn,
		Game:    telemetry.NewLatest[bool](),
		Players: telemetry.NewLatest[[]string](),
		Speed:   telemetry.NewLatest[int](),
		Hits:    telemetry.NewLatest[uint64](),
	}
	if err := c.send(EventRegister, name); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to register %s: %w", name, err)
	}

	logger.WithComponent("relay").Info().Str("url", url).Str("name", name).Msg("Registered with relay")
	return c, nil
}

// Name returns the name this client registered with
func (c *Client) Name() string {
	return c.name
}

// Boom reports a hit on the vehicle with the given id
func (c *Client) Boom(id string) error {
	return c.send(EventBoom, target{ID: id})
}

func (c *Client) send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.closeMu.Lock()
	closed := c.closed
	c.closeMu.Unlock()
	if closed {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(Message{Event: event, Data: raw})
}

// Run reads events until ctx is done or the connection fails. It closes the
// client on return.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	defer c.Close()

	log := logger.WithComponent("relay")
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return nil
			}
			return fmt.Errorf("relay read failed: %w", err)
		}
		if err := c.dispatch(msg); err != nil {
			log.Warn().Err(err).Str("event", msg.Event).Msg("Ignoring malformed relay event")
		}
	}
}

func (c *Client) dispatch(msg Message) error {
	switch msg.Event {
	case EventSetGame:
		var on bool
		if err := json.Unmarshal(msg.Data, &on); err != nil {
			return err
		}
		c.Game.Publish(on)
	case EventPlayers:
		var players []string
		if err := json.Unmarshal(msg.Data, &players); err != nil {
			return err
		}
		c.Players.Publish(players)
	case EventSpeed:
		var percent int
		if err := json.Unmarshal(msg.Data, &percent); err != nil {
			return err
		}
		c.Speed.Publish(percent)
	case EventHit:
		var t target
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &t); err != nil {
				return err
			}
		}
		if t.ID != "" && t.ID != c.name {
			return nil
		}
		c.hits++
		c.Hits.Publish(c.hits)
	default:
		logger.WithComponent("relay").Debug().Str("event", msg.Event).Msg("Unknown relay event")
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
