package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/asheshgoplani/panedeck/internal/config"
)

// ctrlQ detaches from an attached terminal.
const ctrlQ = 17

type attachMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

type attachEvent struct {
	Type    string `json:"type"`
	Event   string `json:"event,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	State   string `json:"state,omitempty"`
}

// terminalURL builds the websocket URL for a terminal on a server address.
func terminalURL(server, terminalID, token, projectPath string) string {
	u := url.URL{Scheme: "ws", Host: server, Path: "/ws/terminal/" + url.PathEscape(terminalID)}
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	if projectPath != "" {
		q.Set("path", projectPath)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func handleAttach(args []string) error {
	settings := config.GetWebSettings()

	fs := flag.NewFlagSet("attach", flag.ContinueOnError)
	server := fs.String("server", settings.ListenAddr, "Address of a running panedeck server")
	token := fs.String("token", settings.Token, "Bearer token for the server")
	projectPath := fs.String("path", "", "Working directory if the terminal has to be started")

	fs.Usage = func() {
		fmt.Println("Usage: panedeck attach <terminal-id> [options]")
		fmt.Println()
		fmt.Println("Attach this terminal to a workspace terminal. Ctrl+Q detaches; the shell keeps running.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  panedeck attach myproj-term-0")
		fmt.Println("  panedeck attach myproj-term-0 --path ~/src/myproj")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("flag parsing: %w", err)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected exactly one terminal id")
	}

	conn, resp, err := websocket.DefaultDialer.Dial(terminalURL(*server, fs.Arg(0), *token, *projectPath), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("attach failed: %s", resp.Status)
		}
		return fmt.Errorf("attach failed: %w", err)
	}
	defer conn.Close()

	return runAttached(context.Background(), conn)
}

// runAttached relays stdin and stdout over conn until Ctrl+Q, the terminal
// closing, or the connection dropping.
func runAttached(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("failed to set raw mode: %w", err)
		}
		defer func() { _ = term.Restore(stdinFd, oldState) }()
	}

	var writeMu sync.Mutex
	send := func(msg attachMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(msg)
	}
	sendSize := func() {
		if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			_ = send(attachMessage{Type: "resize", Cols: cols, Rows: rows})
		}
	}

	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	defer signal.Stop(sigwinch)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigwinch:
				sendSize()
			}
		}
	}()
	sendSize()

	result := make(chan error, 2)

	go func() {
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					result <- nil
				} else {
					result <- fmt.Errorf("connection lost: %w", err)
				}
				return
			}
			if kind == websocket.BinaryMessage {
				_, _ = os.Stdout.Write(payload)
				continue
			}
			var ev attachEvent
			if json.Unmarshal(payload, &ev) != nil {
				continue
			}
			if done, err := handleAttachEvent(ev); done {
				result <- err
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				if err == io.EOF {
					result <- nil
				} else {
					result <- fmt.Errorf("stdin read error: %w", err)
				}
				return
			}
			if n == 1 && buf[0] == ctrlQ {
				result <- nil
				return
			}
			if err := send(attachMessage{Type: "input", Data: string(buf[:n])}); err != nil {
				result <- fmt.Errorf("send input: %w", err)
				return
			}
		}
	}()

	err := <-result
	writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "detach"),
		time.Now().Add(time.Second))
	writeMu.Unlock()
	return err
}

// handleAttachEvent reports whether the session is over.
func handleAttachEvent(ev attachEvent) (done bool, err error) {
	switch ev.Type {
	case "status":
		switch ev.Event {
		case "closed":
			return true, nil
		case "attached":
			if ev.State == "disconnected" {
				return true, errors.New("terminal could not be started")
			}
		}
	case "error":
		if ev.Code == "DETACHED" {
			return true, errors.New("terminal was attached elsewhere")
		}
	}
	return false, nil
}
