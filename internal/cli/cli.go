// Package cli is a minimal terminal front-end for the session agent: a
// bufio-driven read loop translating slash commands into uiproto.Command
// values, and a renderer turning uiproto.Event values into printed lines.
// It stands in for a real terminal front-end (keystroke capture, password
// masking, a redraw loop) that would normally own this role.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"chatnode/internal/uiproto"
)

// UI drives one terminal session against a session agent's command/event
// channels.
type UI struct {
	out     io.Writer
	in      *bufio.Scanner
	cmdCh   chan<- uiproto.Command
	eventCh <-chan uiproto.Event
}

// New builds a UI writing to out, reading lines from in, and talking to a
// session agent through cmdCh/eventCh.
func New(in io.Reader, out io.Writer, cmdCh chan<- uiproto.Command, eventCh <-chan uiproto.Event) *UI {
	return &UI{out: out, in: bufio.NewScanner(in), cmdCh: cmdCh, eventCh: eventCh}
}

// Run starts the render loop in the background and blocks reading and
// dispatching input lines until stdin closes or /quit is entered.
// Cancelling ctx stops the render loop but does not interrupt a pending read.
func (u *UI) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		u.renderLoop(ctx)
	}()

	fmt.Fprintln(u.out, "Type /help for commands. Ctrl+C to exit.")
	fmt.Fprint(u.out, "> ")
	for u.in.Scan() {
		line := strings.TrimSpace(u.in.Text())
		if line == "" {
			fmt.Fprint(u.out, "> ")
			continue
		}
		if !u.dispatch(line) {
			break
		}
		fmt.Fprint(u.out, "> ")
	}

	select {
	case u.cmdCh <- uiproto.Shutdown{}:
	case <-ctx.Done():
	}
	<-done
}

func (u *UI) dispatch(line string) (keepGoing bool) {
	if !strings.HasPrefix(line, "/") {
		u.cmdCh <- uiproto.SendChat{Text: line}
		return true
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/create":
		if len(fields) < 3 {
			fmt.Fprintln(u.out, "usage: /create <room-name> <password>")
			return true
		}
		u.cmdCh <- uiproto.CreateRoom{Name: fields[1], Password: strings.Join(fields[2:], " ")}
	case "/join":
		if len(fields) < 3 {
			fmt.Fprintln(u.out, "usage: /join <code> <password>")
			return true
		}
		u.cmdCh <- uiproto.JoinRoom{Code: fields[1], Password: strings.Join(fields[2:], " ")}
	case "/leave":
		u.cmdCh <- uiproto.LeaveRoom{}
	case "/peers":
		u.cmdCh <- uiproto.ListPeers{}
	case "/help":
		fmt.Fprintln(u.out, "/create <name> <password>   create a room and print its share code")
		fmt.Fprintln(u.out, "/join <code> <password>     join a room by its share code")
		fmt.Fprintln(u.out, "/leave                      leave the current room")
		fmt.Fprintln(u.out, "/peers                      list peers in the current room")
		fmt.Fprintln(u.out, "/quit                       shut down")
		fmt.Fprintln(u.out, "anything else is sent as a chat message")
	case "/quit":
		return false
	default:
		fmt.Fprintf(u.out, "unknown command %q, try /help\n", fields[0])
	}
	return true
}

func (u *UI) renderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-u.eventCh:
			if !ok {
				return
			}
			u.render(ev)
		}
	}
}

func (u *UI) render(ev uiproto.Event) {
	switch e := ev.(type) {
	case uiproto.Display:
		fmt.Fprintf(u.out, "\n%s\n> ", e.Line)
	case uiproto.Status:
		fmt.Fprintf(u.out, "\n[!] %s\n> ", e.Line)
	case uiproto.RoomEntered:
		if e.Code != "" {
			fmt.Fprintf(u.out, "\n✅ entered room %q\n📎 share code: %s\n> ", e.Name, e.Code)
		} else {
			fmt.Fprintf(u.out, "\n✅ entered room %q\n> ", e.Name)
		}
	case uiproto.RoomLeft:
		fmt.Fprintf(u.out, "\n👋 left the room\n> ")
	case uiproto.PeerList:
		fmt.Fprintf(u.out, "\n👥 %d peer(s):\n", len(e.Peers))
		for _, p := range e.Peers {
			marker := ""
			if p.IsRelayed {
				marker = " (relayed)"
			}
			fmt.Fprintf(u.out, "  - %s%s\n", p.Display, marker)
		}
		fmt.Fprint(u.out, "> ")
	case uiproto.Error:
		fmt.Fprintf(u.out, "\n❌ [%s] %s\n> ", e.Kind, e.Message)
	}
}
