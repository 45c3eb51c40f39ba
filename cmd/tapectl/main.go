// Package main provides the remote control CLI for a running player.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
)

var (
	app    = kingpin.New("tapectl", "tapedeck remote control")
	server = app.Flag("server", "Player address").Default("http://localhost:8909").String()

	// status command
	statusCmd = app.Command("status", "Show playback state")

	// queue commands
	queueCmd = app.Command("queue", "List the queue")

	addCmd     = app.Command("add", "Add a track to the queue")
	addID      = addCmd.Arg("id", "Track ID").Required().String()
	addURL     = addCmd.Arg("url", "Audio URL").Required().String()
	addTitle   = addCmd.Flag("title", "Track title").String()
	addProject = addCmd.Flag("project", "Project title").String()

	rmCmd = app.Command("rm", "Remove a track from the queue")
	rmID  = rmCmd.Arg("id", "Track ID").Required().String()

	clearCmd = app.Command("clear", "Clear the queue")

	// transport commands
	playCmd   = app.Command("play", "Start playing the queue")
	playIndex = playCmd.Arg("index", "Queue index").Default("0").Int()

	pauseCmd = app.Command("pause", "Toggle pause")
	nextCmd  = app.Command("next", "Skip to the next track")
	prevCmd  = app.Command("prev", "Go back to the previous track")
	stopCmd  = app.Command("stop", "Stop playback")

	seekCmd = app.Command("seek", "Seek within the current track")
	seekSec = seekCmd.Arg("seconds", "Position in seconds").Required().Float64()

	volCmd   = app.Command("vol", "Set the volume")
	volLevel = volCmd.Arg("level", "Level 0..1").Required().Float64()

	repeatCmd  = app.Command("repeat", "Set the repeat mode")
	repeatMode = repeatCmd.Arg("mode", "off, one or all").Required().Enum("off", "one", "all")

	// watch command
	watchCmd = app.Command("watch", "Stream player events until interrupted")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	c := &client{base: strings.TrimRight(*server, "/")}

	var err error
	switch command {
	case statusCmd.FullCommand():
		err = c.status()
	case queueCmd.FullCommand():
		err = c.queue()
	case addCmd.FullCommand():
		err = c.add()
	case rmCmd.FullCommand():
		err = c.call(http.MethodDelete, "/v1/queue/"+*rmID, nil)
	case clearCmd.FullCommand():
		err = c.call(http.MethodDelete, "/v1/queue", nil)
	case playCmd.FullCommand():
		err = c.call(http.MethodPost, "/v1/play/queue", map[string]any{"index": *playIndex})
	case pauseCmd.FullCommand():
		err = c.call(http.MethodPost, "/v1/pause", nil)
	case nextCmd.FullCommand():
		err = c.call(http.MethodPost, "/v1/next", nil)
	case prevCmd.FullCommand():
		err = c.call(http.MethodPost, "/v1/previous", nil)
	case stopCmd.FullCommand():
		err = c.call(http.MethodPost, "/v1/stop", nil)
	case seekCmd.FullCommand():
		err = c.call(http.MethodPost, "/v1/seek", map[string]any{"seconds": *seekSec})
	case volCmd.FullCommand():
		err = c.call(http.MethodPost, "/v1/volume", map[string]any{"level": *volLevel})
	case repeatCmd.FullCommand():
		err = c.call(http.MethodPost, "/v1/repeat", map[string]any{"mode": *repeatMode})
	case watchCmd.FullCommand():
		err = c.watch()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	base string
}

// call issues an intent request and reports any error payload.
func (c *client) call(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	return nil
}

func (c *client) status() error {
	resp, err := http.Get(c.base + "/v1/state")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	var st struct {
		Source          string `json:"source"`
		Track           *struct {
			Title        string `json:"title"`
			ProjectTitle string `json:"projectTitle"`
		} `json:"track"`
		Playing         bool    `json:"playing"`
		PositionSeconds float64 `json:"positionSeconds"`
		DurationSeconds float64 `json:"durationSeconds"`
		Repeat          string  `json:"repeat"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return err
	}

	if st.Track == nil {
		fmt.Println("idle")
		return nil
	}
	marker := "paused"
	if st.Playing {
		marker = "playing"
	}
	fmt.Printf("%s  %s [%s] %s  %s/%s  repeat=%s\n",
		marker, st.Track.Title, st.Source, st.Track.ProjectTitle,
		clock(st.PositionSeconds), clock(st.DurationSeconds), st.Repeat)
	return nil
}

func (c *client) queue() error {
	resp, err := http.Get(c.base + "/v1/queue")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	var items []struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		ProjectTitle string `json:"projectTitle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return err
	}

	if len(items) == 0 {
		fmt.Println("queue is empty")
		return nil
	}
	for i, it := range items {
		fmt.Printf("%2d  %-12s %s", i, it.ID, it.Title)
		if it.ProjectTitle != "" {
			fmt.Printf("  (%s)", it.ProjectTitle)
		}
		fmt.Println()
	}
	return nil
}

func (c *client) add() error {
	title := *addTitle
	if title == "" {
		title = *addID
	}
	return c.call(http.MethodPost, "/v1/queue", map[string]any{
		"id":           *addID,
		"audioUrl":     *addURL,
		"title":        title,
		"projectTitle": *addProject,
	})
}

// watch tails the event stream and prints each event on its own line.
func (c *client) watch() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/events", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	fmt.Println("watching... (Ctrl-C to stop)")
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		printEvent(strings.TrimPrefix(line, "data: "))
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

func printEvent(data string) {
	var ev struct {
		Kind   string `json:"kind"`
		Reason string `json:"reason"`
		State  *struct {
			Track *struct {
				Title string `json:"title"`
			} `json:"track"`
			Playing         bool    `json:"playing"`
			PositionSeconds float64 `json:"positionSeconds"`
		} `json:"state"`
		Queue []struct {
			Title string `json:"title"`
		} `json:"queue"`
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		fmt.Printf("%s  %s\n", stamp(), data)
		return
	}

	switch ev.Kind {
	case "state_changed":
		if ev.State == nil || ev.State.Track == nil {
			fmt.Printf("%s  state: idle\n", stamp())
			return
		}
		marker := "paused"
		if ev.State.Playing {
			marker = "playing"
		}
		fmt.Printf("%s  state: %s %s at %s\n", stamp(), marker, ev.State.Track.Title, clock(ev.State.PositionSeconds))
	case "queue_changed":
		titles := make([]string, 0, len(ev.Queue))
		for _, q := range ev.Queue {
			titles = append(titles, q.Title)
		}
		fmt.Printf("%s  queue: [%s]\n", stamp(), strings.Join(titles, ", "))
	case "playback_error":
		fmt.Printf("%s  error: %s\n", stamp(), ev.Reason)
	default:
		fmt.Printf("%s  %s\n", stamp(), ev.Kind)
	}
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, body.Error)
	}
	return fmt.Errorf("%s", resp.Status)
}

func clock(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func stamp() string {
	return time.Now().Format("15:04:05")
}
