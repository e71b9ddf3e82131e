package httpsync

import (
	"net/http"
	stdSync "sync"
	"time"

	"github.com/gorilla/websocket"

	docsync "github.com/c0deZ3R0/go-doc-sync"
	"github.com/c0deZ3R0/go-doc-sync/logging"
)

const writeWait = 10 * time.Second

// Feed pushes accepted events to connected websocket clients so they can
// advance without polling. Clients still confirm their position through
// GET /events; the feed is a latency optimization, not a delivery guarantee.
type Feed struct {
	upgrader websocket.Upgrader
	logger   *logging.Logger

	mu    stdSync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logging.WithComponent(logging.Component("transport/httpsync/feed")),
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// HandleWS upgrades the request and keeps the connection registered until
// the client goes away. Inbound messages are discarded.
func (f *Feed) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}

	f.mu.Lock()
	f.conns[conn] = struct{}{}
	f.mu.Unlock()

	go f.readLoop(conn)
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	defer f.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends the event to every connected client. Dead connections are
// dropped.
func (f *Feed) Broadcast(ev docsync.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for conn := range f.conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			delete(f.conns, conn)
			conn.Close()
		}
	}
}

// Count returns the number of connected clients.
func (f *Feed) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *Feed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conns[conn]; ok {
		delete(f.conns, conn)
		conn.Close()
	}
}
