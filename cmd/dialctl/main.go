package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
)

// ============================================================================
// dialctl - command-line IPC client for diald
// ============================================================================
//
//   dialctl set-volume 55
//   dialctl press
//   dialctl rotate -- -5 --count 10
//   dialctl status [--json]
// ============================================================================

// Event payloads, duplicated from the daemon for a standalone binary.
type rotateData struct {
	Value int32 `json:"value"`
}

type setVolumeData struct {
	Volume int    `json:"volume"`
	Origin string `json:"origin"`
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type backlashState struct {
	PreDirection        int  `json:"pre_direction"`
	NewDirection        int  `json:"new_direction"`
	BufferedSum         int  `json:"buffered_sum"`
	ConsecutiveNew      uint `json:"consecutive_new"`
	ConsecutiveOriginal uint `json:"consecutive_original"`
}

type dialState struct {
	Mode         string         `json:"mode"`
	Volume       int            `json:"volume"`
	Remainder    int            `json:"remainder"`
	Heading      int            `json:"heading"`
	Clicks       uint64         `json:"clicks"`
	LastActivity time.Time      `json:"last_activity"`
	Backlash     *backlashState `json:"backlash,omitempty"`
}

type ipcResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

type CLI struct {
	Socket string `help:"Unix domain socket path." default:"/tmp/diald.sock" env:"DIALD_SOCKET" type:"path"`

	SetVolume SetVolumeCmd `cmd:"" aliases:"set" help:"Set the volume (only applied while the dial is idle)."`
	Press     PressCmd     `cmd:"" help:"Simulate a dial click."`
	Rotate    RotateCmd    `cmd:"" help:"Inject raw rotation ticks."`
	Status    StatusCmd    `cmd:"" help:"Print the daemon state."`
}

type SetVolumeCmd struct {
	Volume int `arg:"" help:"Target volume (0-100; out-of-range values are clamped)."`
}

func (c *SetVolumeCmd) Run(cli *CLI) error {
	line, err := marshalEnvelope("remote_set_volume", setVolumeData{Volume: c.Volume, Origin: "dialctl"})
	if err != nil {
		return err
	}
	return sendOK(cli.Socket, line)
}

type PressCmd struct{}

func (c *PressCmd) Run(cli *CLI) error {
	line, err := marshalEnvelope("button_press", nil)
	if err != nil {
		return err
	}
	return sendOK(cli.Socket, line)
}

type RotateCmd struct {
	Value int32 `arg:"" help:"Signed raw value per tick."`
	Count int   `help:"Number of ticks to send." default:"1"`
}

func (c *RotateCmd) Run(cli *CLI) error {
	if c.Count < 1 {
		return fmt.Errorf("--count must be >= 1")
	}
	line, err := marshalEnvelope("rotate", rotateData{Value: c.Value})
	if err != nil {
		return err
	}
	for i := 0; i < c.Count; i++ {
		if err := sendOK(cli.Socket, line); err != nil {
			return fmt.Errorf("tick %d: %w", i+1, err)
		}
	}
	return nil
}

type StatusCmd struct {
	JSON bool `name:"json" help:"Print the raw JSON state."`
}

func (c *StatusCmd) Run(cli *CLI) error {
	line, err := marshalEnvelope("get_state", nil)
	if err != nil {
		return err
	}
	resp, err := send(cli.Socket, line)
	if err != nil {
		return err
	}
	if len(resp.State) == 0 {
		return fmt.Errorf("daemon returned no state")
	}

	if c.JSON {
		_, err := fmt.Fprintf(os.Stdout, "%s\n", resp.State)
		return err
	}

	var st dialState
	if err := json.Unmarshal(resp.State, &st); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	return printState(os.Stdout, st)
}

func printState(w io.Writer, st dialState) error {
	var b strings.Builder
	fmt.Fprintf(&b, "mode:      %s\n", st.Mode)
	fmt.Fprintf(&b, "volume:    %d (%+d raw)\n", st.Volume, st.Remainder*st.Heading)
	fmt.Fprintf(&b, "clicks:    %d\n", st.Clicks)
	if !st.LastActivity.IsZero() {
		fmt.Fprintf(&b, "activity:  %s\n", st.LastActivity.Local().Format(time.DateTime))
	}
	if bl := st.Backlash; bl != nil {
		fmt.Fprintf(&b, "backlash:  buffered=%d new=%d original=%d\n", bl.BufferedSum, bl.ConsecutiveNew, bl.ConsecutiveOriginal)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func marshalEnvelope(typ string, data any) ([]byte, error) {
	env := envelope{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", typ, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func sendOK(socketPath string, line []byte) error {
	_, err := send(socketPath, line)
	return err
}

// send writes one line-delimited request and decodes the reply.
func send(socketPath string, line []byte) (ipcResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return ipcResponse{}, fmt.Errorf("send: %w", err)
	}

	var resp ipcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return ipcResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("dialctl"),
		kong.Description("Control a running diald over its IPC socket."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
