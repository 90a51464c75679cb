// client/main.go
//
// A minimal bot client: joins the lobby, then wanders the arena sending
// a fresh heading every few ticks. Useful for smoke-testing a running
// server and for filling rooms during development.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"log"
	"math"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

const (
	msgTypeHeartbeat = 1
	msgTypeJoinLobby = 101
	msgTypeMove      = 201
	msgTypeGameStart = 302
	msgTypeError     = 401
)

type vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type moveRequest struct {
	Direction vec2 `json:"direction"`
	Boosting  bool `json:"boosting,omitempty"`
}

type joinRequest struct {
	AdRevenue float64 `json:"adRevenue,omitempty"`
}

// send frames data as 2 byte message ID + 4 byte payload length +
// payload, matching the server's codec.
func send(c *websocket.Conn, msgID uint16, data []byte) error {
	packet := make([]byte, 6+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint32(packet[2:6], uint32(len(data)))
	copy(packet[6:], data)
	return c.WriteMessage(websocket.BinaryMessage, packet)
}

func main() {
	host := flag.String("host", "localhost:8080", "server host:port")
	token := flag.String("token", "", "JWT credential; empty connects anonymously")
	adRevenue := flag.Float64("ad-revenue", 0, "ad revenue to report when joining an instant-mode server")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	u := url.URL{Scheme: "ws", Host: *host, Path: "/ws"}
	if *token != "" {
		u.RawQuery = "token=" + url.QueryEscape(*token)
	}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})
	playing := make(chan struct{})

	go func() {
		defer close(done)
		started := false
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			if len(message) < 6 {
				continue
			}
			msgID := binary.BigEndian.Uint16(message[0:2])
			data := message[6:]
			switch msgID {
			case msgTypeGameStart:
				log.Printf("<- game start: %s", string(data))
				if !started {
					started = true
					close(playing)
				}
			case msgTypeError:
				log.Printf("<- error: %s", string(data))
			default:
				log.Printf("<- msg %d (%d bytes)", msgID, len(data))
			}
		}
	}()

	joinData, _ := json.Marshal(joinRequest{AdRevenue: *adRevenue})
	if err := send(c, msgTypeJoinLobby, joinData); err != nil {
		log.Fatalf("Join failed: %v", err)
	}
	log.Println("-> joined lobby, waiting for game start")

	heading := rand.Float64() * 2 * math.Pi
	moveTicker := time.NewTicker(200 * time.Millisecond)
	defer moveTicker.Stop()
	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	inGame := false
	for {
		select {
		case <-done:
			return
		case <-playing:
			inGame = true
			playing = nil
			log.Println("Wandering.")
		case <-heartbeat.C:
			if err := send(c, msgTypeHeartbeat, nil); err != nil {
				log.Println("Heartbeat error:", err)
				return
			}
		case <-moveTicker.C:
			if !inGame {
				continue
			}
			heading += (rand.Float64() - 0.5) * 0.6
			req := moveRequest{
				Direction: vec2{X: math.Cos(heading), Y: math.Sin(heading)},
				Boosting:  rand.Intn(20) == 0,
			}
			data, _ := json.Marshal(req)
			if err := send(c, msgTypeMove, data); err != nil {
				log.Println("Move error:", err)
				return
			}
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
