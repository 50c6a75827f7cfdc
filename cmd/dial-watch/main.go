package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gorilla/websocket"
)

// dial-watch follows diald's state websocket and prints one line per change.

type CLI struct {
	URL string `name:"url" help:"State websocket URL." default:"ws://127.0.0.1:3002/ws/state"`
	Raw bool   `help:"Print frames as received."`
}

type frame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type stateData struct {
	Volume *int    `json:"volume,omitempty"`
	Clicks *uint64 `json:"clicks,omitempty"`
	Mode   string  `json:"mode,omitempty"`
}

// formatFrame renders one envelope for the terminal.
func formatFrame(msg []byte) string {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return fmt.Sprintf("[TEXT] %s", msg)
	}

	var d stateData
	_ = json.Unmarshal(f.Data, &d)

	ts := ""
	if f.Ts != nil {
		ts = f.Ts.Local().Format("15:04:05.000") + " "
	}

	switch f.Type {
	case "state_init":
		vol, clicks := 0, uint64(0)
		if d.Volume != nil {
			vol = *d.Volume
		}
		if d.Clicks != nil {
			clicks = *d.Clicks
		}
		return fmt.Sprintf("%s[STATE] volume=%d clicks=%d mode=%s", ts, vol, clicks, d.Mode)
	case "volume_changed":
		if d.Volume != nil {
			return fmt.Sprintf("%s[VOLUME] %d", ts, *d.Volume)
		}
	case "clicks_changed":
		if d.Clicks != nil {
			return fmt.Sprintf("%s[CLICK] %d", ts, *d.Clicks)
		}
	case "mode_changed":
		return fmt.Sprintf("%s[MODE] %s", ts, d.Mode)
	}
	return fmt.Sprintf("%s[%s] %s", ts, f.Type, f.Data)
}

func (c *CLI) Run() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()
	log.Printf("connected (Ctrl+C to exit)")

	// The server pings every 20s; answering keeps the read deadline fresh.
	var writeMu sync.Mutex
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			if c.Raw {
				fmt.Printf("%s\n", msg)
				continue
			}
			fmt.Println(formatFrame(msg))
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("dial-watch"),
		kong.Description("Print diald state changes from its websocket."),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
