package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/photoguess/identity"
	"github.com/wfunc/photoguess/logger"
	"github.com/wfunc/photoguess/models"
	"github.com/wfunc/photoguess/network"
	"github.com/wfunc/photoguess/reveal"
	"github.com/wfunc/photoguess/room"
)

type player struct {
	base string
	user identity.User
	conn *network.WSConnection
	seq  atomic.Uint64

	mu   sync.Mutex
	view room.View
}

func main() {
	server := flag.String("server", "localhost:8080", "game server host:port")
	roomID := flag.String("room", "", "room to join; empty creates a new one")
	name := flag.String("name", "", "display name")
	stateFile := flag.String("state", filepath.Join(os.TempDir(), "photoguess-player.db"), "local identity file")
	flag.Parse()

	logger.Init()
	defer logger.Sync()

	local, err := identity.OpenBoltLocalStore(*stateFile)
	if err != nil {
		logger.Log.Fatalf("Open identity store failed: %v", err)
	}
	defer local.Close()

	base := "http://" + *server
	resolver := identity.NewResolver(identity.NewHTTPProvider(base, nil), local)
	ctx := context.Background()
	user, err := resolver.EnsureUser(ctx)
	if err != nil {
		logger.Log.Fatalf("Sign in failed: %v", err)
	}
	if *name != "" {
		if user, err = resolver.ApplyProfile(ctx, *name, ""); err != nil {
			logger.Log.Fatalf("Update profile failed: %v", err)
		}
	}
	logger.Log.Infof("Playing as %s (%s, local=%v)", user.DisplayName, user.UID, user.IsLocal)

	p := &player{base: base, user: user}
	if *roomID == "" {
		if *roomID, err = p.createRoom(); err != nil {
			logger.Log.Fatalf("Create room failed: %v", err)
		}
		fmt.Printf("Created room %s\n", *roomID)
	}

	u := url.URL{Scheme: "ws", Host: *server, Path: "/ws", RawQuery: p.authQuery().Encode()}
	logger.Log.Infof("Connecting to %s", u.Host)
	conn, err := network.Dial(u.String(), nil)
	if err != nil {
		logger.Log.Fatalf("Dial failed: %v", err)
	}
	p.conn = conn
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.readLoop()
	}()

	join, _ := json.Marshal(network.JoinRequest{RoomID: *roomID, Name: user.DisplayName, PhotoURL: user.PhotoURL})
	if err := conn.Send(network.MsgTypeJoinRoom, join); err != nil {
		logger.Log.Fatalf("Join failed: %v", err)
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = conn.Send(network.MsgTypeHeartbeat, nil)
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println("Commands: ready, unready, say <text>, name <name>, upload <file>, guess <photo> <player>, remove <photo>, start, next, quit")
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			logger.Log.Info("Interrupt received, closing connection.")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := p.command(strings.TrimSpace(line)); quit {
				_ = conn.Send(network.MsgTypeLeaveRoom, nil)
				return
			}
		}
	}
}

func (p *player) authQuery() url.Values {
	q := url.Values{}
	if p.user.Token != "" {
		q.Set("token", p.user.Token)
	} else {
		q.Set("player", p.user.UID)
	}
	return q
}

func (p *player) authorize(req *http.Request) {
	if p.user.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.user.Token)
		return
	}
	req.Header.Set("X-Player-ID", p.user.UID)
}

func (p *player) createRoom() (string, error) {
	body, _ := json.Marshal(map[string]any{"name": p.user.DisplayName, "countdownEnabled": true})
	req, err := http.NewRequest(http.MethodPost, p.base+"/api/rooms", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)
	var out struct {
		RoomID string `json:"roomId"`
	}
	if err := p.call(req, &out); err != nil {
		return "", err
	}
	return out.RoomID, nil
}

func (p *player) upload(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, p.base+"/api/rooms/"+p.currentView().RoomID+"/photos", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	p.authorize(req)
	var photo models.Photo
	return p.call(req, &photo)
}

func (p *player) call(req *http.Request, out any) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e identity.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *player) currentView() room.View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

func (p *player) intent(in room.Intent) {
	in.Seq = p.seq.Add(1)
	data, _ := json.Marshal(in)
	if err := p.conn.Send(network.MsgTypeIntent, data); err != nil {
		logger.Log.Errorf("Write error: %v", err)
	}
}

// command runs one input line. It reports whether the player wants to quit.
func (p *player) command(line string) bool {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch verb {
	case "":
	case "quit", "exit":
		return true
	case "ready":
		p.intent(room.Intent{Kind: room.KindReady, Ready: true})
	case "unready":
		p.intent(room.Intent{Kind: room.KindReady, Ready: false})
	case "say":
		p.intent(room.Intent{Kind: room.KindChat, Text: rest})
	case "name":
		p.intent(room.Intent{Kind: room.KindRename, Name: rest})
	case "remove":
		p.intent(room.Intent{Kind: room.KindRemovePhoto, PhotoID: rest})
	case "guess":
		photo, target, _ := strings.Cut(rest, " ")
		p.intent(room.Intent{Kind: room.KindGuess, PhotoID: photo, TargetID: strings.TrimSpace(target)})
	case "upload":
		if err := p.upload(rest); err != nil {
			fmt.Printf("upload failed: %v\n", err)
		}
	case "start":
		switch p.currentView().Status {
		case models.StatusJoin:
			p.intent(room.Intent{Kind: room.KindStartUpload})
		case models.StatusUpload:
			p.intent(room.Intent{Kind: room.KindStartGuess})
		case models.StatusGuess:
			p.intent(room.Intent{Kind: room.KindShowResults})
		default:
			fmt.Println("nothing to start")
		}
	case "next":
		p.intent(room.Intent{Kind: room.KindAdvanceResults})
	default:
		fmt.Printf("unknown command %q\n", verb)
	}
	return false
}

func (p *player) readLoop() {
	for {
		packet, err := p.conn.ReadPacket()
		if err != nil {
			logger.Log.Infof("Read error: %v", err)
			return
		}
		switch packet.MsgID {
		case network.MsgTypeRoomView:
			var v room.View
			if err := json.Unmarshal(packet.Data, &v); err != nil {
				logger.Log.Warnf("Bad view: %v", err)
				continue
			}
			p.mu.Lock()
			p.view = v
			p.mu.Unlock()
			render(v)
		case network.MsgTypeIntentResult:
			var res network.IntentResult
			_ = json.Unmarshal(packet.Data, &res)
			if res.Error != "" {
				fmt.Printf("! %s: %s\n", res.Kind, res.Error)
			}
		case network.MsgTypeStageNotice:
			var n network.StageNotice
			_ = json.Unmarshal(packet.Data, &n)
			fmt.Printf("== %s (%s)\n", n.Title, n.Trigger)
		case network.MsgTypeUploadDone:
			var n network.UploadNotice
			_ = json.Unmarshal(packet.Data, &n)
			fmt.Printf("uploaded %s\n", n.PhotoID)
		case network.MsgTypeError:
			var e network.ErrorMessage
			_ = json.Unmarshal(packet.Data, &e)
			fmt.Printf("! %s\n", e.Error)
		case network.MsgTypeServerClosing:
			fmt.Println("server is shutting down")
			return
		}
	}
}

func render(v room.View) {
	if v.Loading {
		return
	}
	if v.Error != "" {
		fmt.Printf("! room error: %s\n", v.Error)
		return
	}
	fmt.Printf("\n[%s] %s  %s  ready %d/%d\n", v.RoomID, v.Title, v.Countdown, v.ReadyCount, len(v.Users))
	for _, u := range v.Users {
		mark := " "
		if u.Ready {
			mark = "*"
		}
		host := ""
		if u.IsHost() {
			host = " (host)"
		}
		fmt.Printf("  %s %-16s %5d  %s%s\n", mark, u.Name, u.Score, u.ID, host)
	}
	if n := len(v.Messages); n > 0 {
		m := v.Messages[n-1]
		fmt.Printf("  > %s: %s\n", m.UserName, m.Text)
	}
	switch v.Status {
	case models.StatusUpload:
		fmt.Printf("  uploads: %d (requirement met: %v)\n", v.Uploads, v.UploadRequirementMet)
	case models.StatusGuess:
		for _, ph := range v.Unassigned {
			fmt.Printf("  photo %s needs a guess\n", ph.ID)
		}
	case models.StatusResults:
		if r := v.Results; r != nil && r.Photo != nil {
			fmt.Printf("  photo %d/%d %s phase=%s", r.Index+1, r.Total, r.Photo.URL, r.Phase)
			if r.Uploader != nil && r.Phase != reveal.PhasePhoto {
				fmt.Printf(" by %s", r.Uploader.Name)
			}
			fmt.Printf(" correct=%d", len(r.VisibleGuessers))
			if r.CanAdvance {
				fmt.Printf("  [next: %s]", r.AdvanceLabel)
			}
			fmt.Println()
		}
	case models.StatusComplete:
		for _, s := range v.Scoreboard {
			fmt.Printf("  #%d %s %d\n", s.Rank, s.User.Name, s.User.Score)
		}
	}
}
