package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smartystreets/goconvey/convey"
)

// fakeRelay accepts one client, forwards what it receives on got and writes
// everything sent on push
type fakeRelay struct {
	srv  *httptest.Server
	got  chan Message
	push chan Message
}

func newFakeRelay() *fakeRelay {
	f := &fakeRelay{got: make(chan Message, 16), push: make(chan Message, 16)}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for msg := range f.push {
				if conn.WriteJSON(msg) != nil {
					return
				}
			}
		}()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.got <- msg
		}
	}))
	return f
}

func (f *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeRelay) send(event string, data any) {
	raw, _ := json.Marshal(data)
	f.push <- Message{Event: event, Data: raw}
}

func (f *fakeRelay) close() {
	close(f.push)
	f.srv.Close()
}

func next(ch chan Message) Message {
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		return Message{}
	}
}

func TestClient(t *testing.T) {
	convey.Convey("Given a client connected to a relay", t, func() {
		relay := newFakeRelay()
		defer relay.close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c, err := Dial(ctx, relay.url(), "gargamella")
		convey.So(err, convey.ShouldBeNil)
		defer c.Close()

		convey.Convey("it registers its name first", func() {
			msg := next(relay.got)
			convey.So(msg.Event, convey.ShouldEqual, EventRegister)
			convey.So(string(msg.Data), convey.ShouldEqual, `"gargamella"`)
		})

		convey.Convey("Boom sends the target id", func() {
			next(relay.got)
			convey.So(c.Boom("taxiguerrilla"), convey.ShouldBeNil)
			msg := next(relay.got)
			convey.So(msg.Event, convey.ShouldEqual, EventBoom)
			convey.So(string(msg.Data), convey.ShouldEqual, `{"id":"taxiguerrilla"}`)
		})

		convey.Convey("server events are published", func() {
			games := make(chan bool, 4)
			speeds := make(chan int, 4)
			hits := make(chan uint64, 4)
			players := make(chan []string, 4)
			c.Game.Subscribe(func(on bool) { games <- on })
			c.Speed.Subscribe(func(p int) { speeds <- p })
			c.Hits.Subscribe(func(n uint64) { hits <- n })
			c.Players.Subscribe(func(p []string) { players <- p })

			runErr := make(chan error, 1)
			go func() { runErr <- c.Run(ctx) }()

			relay.send(EventSetGame, false)
			relay.send(EventPlayers, []string{"gargamella", "taxiguerrilla"})
			relay.send(EventSpeed, 40)
			relay.send(EventHit, target{ID: "taxiguerrilla"})
			relay.send(EventHit, target{ID: "gargamella"})
			relay.send(EventSetGame, "nonsense")
			relay.send(EventSetGame, true)

			convey.So(<-games, convey.ShouldBeFalse)
			convey.So(<-players, convey.ShouldResemble, []string{"gargamella", "taxiguerrilla"})
			convey.So(<-speeds, convey.ShouldEqual, 40)
			convey.So(<-hits, convey.ShouldEqual, 1)
			convey.So(<-games, convey.ShouldBeTrue)
			convey.So(len(hits), convey.ShouldEqual, 0)

			cancel()
			select {
			case err := <-runErr:
				convey.So(err, convey.ShouldBeNil)
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return")
			}
			convey.So(c.Boom("taxiguerrilla"), convey.ShouldEqual, ErrClosed)
		})

		convey.Convey("Close is idempotent", func() {
			convey.So(c.Close(), convey.ShouldBeNil)
			convey.So(c.Close(), convey.ShouldBeNil)
		})
	})

	convey.Convey("Dialing a missing relay fails", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := Dial(ctx, "ws://127.0.0.1:1/ws", "gargamella")
		convey.So(err, convey.ShouldNotBeNil)
	})
}
