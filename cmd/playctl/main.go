// Package main provides the player control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/nowplaying/internal/api/connect"
	"github.com/osa030/nowplaying/internal/domain/track"
)

var (
	app     = kingpin.New("playctl", "nowplaying control client")
	server  = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token   = app.Flag("token", "API token (or set PLAYER_API_TOKEN env)").Envar("PLAYER_API_TOKEN").String()
	timeout = app.Flag("timeout", "Request timeout").Default("10s").Duration()

	// status command
	statusCmd = app.Command("status", "Show playback status")

	// tracks command
	tracksCmd   = app.Command("tracks", "List catalog tracks")
	tracksGenre = tracksCmd.Flag("genre", "Only list tracks of this genre").String()

	// select command
	selectCmd   = app.Command("select", "Select a track (opens the full player if it is already playing)")
	selectTrack = selectCmd.Arg("track-id", "Track ID").Required().String()

	// play command
	playCmd   = app.Command("play", "Load and play a track")
	playTrack = playCmd.Arg("track-id", "Track ID").Required().String()

	// toggle command
	toggleCmd = app.Command("toggle", "Toggle play/pause")

	// pause / resume commands
	pauseCmd  = app.Command("pause", "Pause playback (no-op unless playing)")
	resumeCmd = app.Command("resume", "Resume playback (no-op while playing)")

	// seek command
	seekCmd = app.Command("seek", "Seek to a position")
	seekPos = seekCmd.Arg("position", `Position as "M:SS"`).Required().String()

	// seek-fraction command
	seekFractionCmd   = app.Command("seek-fraction", "Seek to a fraction of the track (0..1)")
	seekFractionValue = seekFractionCmd.Arg("fraction", "Fraction").Required().Float64()

	// stop command
	stopCmd = app.Command("stop", "Stop playback")

	// volume command
	volumeCmd   = app.Command("volume", "Set the volume (0..1)")
	volumeValue = volumeCmd.Arg("volume", "Volume").Required().Float64()

	// repeat command
	repeatCmd   = app.Command("repeat", "Enable or disable repeat")
	repeatValue = repeatCmd.Arg("on", "true or false").Required().Bool()

	// next / prev commands
	nextCmd = app.Command("next", "Skip to the next track")
	prevCmd = app.Command("prev", "Skip to the previous track")

	// open / close commands
	openCmd  = app.Command("open", "Open the full player")
	closeCmd = app.Command("close", "Close the full player")

	// focus command
	focusCmd     = app.Command("focus", "Report a focus change for a screen")
	focusScreen  = focusCmd.Arg("screen", "Screen name").Required().String()
	focusFocused = focusCmd.Flag("focused", "Whether the screen gained focus").Default("true").Bool()

	// subscribe command
	subscribeCmd = app.Command("subscribe", "Stream notifications")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: API token is required (use --token or PLAYER_API_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewPlayerClient(
		http.DefaultClient,
		*server,
		connect.WithInterceptors(apiconnect.NewClientTokenInterceptor(*token)),
	)

	if command == subscribeCmd.FullCommand() {
		subscribe(client)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		status map[string]any
		err    error
	)

	switch command {
	case statusCmd.FullCommand():
		status, err = client.GetStatus(ctx)
	case tracksCmd.FullCommand():
		listTracks(ctx, client, *tracksGenre)
		return
	case selectCmd.FullCommand():
		status, err = client.Select(ctx, *selectTrack)
	case playCmd.FullCommand():
		status, err = client.Play(ctx, *playTrack)
	case toggleCmd.FullCommand():
		status, err = client.TogglePlayPause(ctx)
	case pauseCmd.FullCommand():
		status, err = client.Pause(ctx)
	case resumeCmd.FullCommand():
		status, err = client.Resume(ctx)
	case seekCmd.FullCommand():
		var pos time.Duration
		pos, err = track.ParseDuration(*seekPos)
		if err == nil {
			status, err = client.Seek(ctx, pos)
		}
	case seekFractionCmd.FullCommand():
		status, err = client.SeekFraction(ctx, *seekFractionValue)
	case stopCmd.FullCommand():
		status, err = client.Stop(ctx)
	case volumeCmd.FullCommand():
		status, err = client.SetVolume(ctx, *volumeValue)
	case repeatCmd.FullCommand():
		status, err = client.SetRepeat(ctx, *repeatValue)
	case nextCmd.FullCommand():
		status, err = client.SkipNext(ctx)
	case prevCmd.FullCommand():
		status, err = client.SkipPrevious(ctx)
	case openCmd.FullCommand():
		status, err = client.OpenFullPlayer(ctx)
	case closeCmd.FullCommand():
		status, err = client.CloseFullPlayer(ctx)
	case focusCmd.FullCommand():
		status, err = client.ReportFocus(ctx, *focusScreen, *focusFocused)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	printStatus(status)
}

func listTracks(ctx context.Context, client *apiconnect.PlayerClient, genre string) {
	tracks, err := client.ListTracks(ctx, genre)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(tracks) == 0 {
		fmt.Println("No tracks")
		return
	}

	fmt.Printf("\n=== TRACKS (%d) ===\n", len(tracks))
	for _, raw := range tracks {
		t, _ := raw.(map[string]any)
		fmt.Printf("  %-12v %5v  %v - %v", t["id"], t["duration"], t["title"], t["artist"])
		if genre, _ := t["genre"].(string); genre != "" {
			fmt.Printf(" [%s]", genre)
		}
		fmt.Println()
	}
	fmt.Println()
}

func printStatus(s map[string]any) {
	fmt.Println("\n=== PLAYER STATUS ===")
	fmt.Printf("State: %v\n", s["state"])

	if t, ok := s["track"].(map[string]any); ok {
		fmt.Println("\nCurrent Track:")
		printTrack(t)
		fmt.Printf("  Progress: %v / %v\n", s["current_time"], s["total_time"])
	} else {
		fmt.Println("\nNo track loaded")
	}

	if t, ok := s["pending"].(map[string]any); ok {
		fmt.Println("\nLoading:")
		printTrack(t)
	}

	fmt.Printf("\nVolume: %v\n", s["volume"])
	fmt.Printf("Repeat: %v\n", s["repeat"])
	fmt.Printf("Overlay Visible: %v\n", s["overlay_visible"])
	fmt.Printf("Full Player Visible: %v\n", s["full_player_visible"])
	if msg, _ := s["last_error"].(string); msg != "" {
		fmt.Printf("Last Error: %s (track %v)\n", msg, s["failed_track_id"])
	}
	fmt.Println()
}

func printTrack(t map[string]any) {
	fmt.Printf("  Track ID: %v\n", t["id"])
	fmt.Printf("  Title: %v\n", t["title"])
	fmt.Printf("  Artist: %v\n", t["artist"])
	if album, _ := t["album"].(string); album != "" {
		fmt.Printf("  Album: %s\n", album)
	}
	fmt.Printf("  Duration: %v\n", t["duration"])
}

func subscribe(client *apiconnect.PlayerClient) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("Subscribed to notifications. Press Ctrl+C to exit.")

	// Handle shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nUnsubscribing...")
		cancel()
	}()

	err := client.Subscribe(ctx, func(n map[string]any) bool {
		printNotification(n)
		return true
	})
	if err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
		os.Exit(1)
	}
}

func printNotification(n map[string]any) {
	fmt.Printf("\n[Sequence: %v] === %v ===\n", n["sequence_no"], n["event"])
	if msg, _ := n["message"].(string); msg != "" {
		fmt.Printf("  %s\n", msg)
	}
	if data, ok := n["data"].(map[string]any); ok {
		fmt.Printf("  State: %v  %v / %v\n", data["state"], data["current_time"], data["total_time"])
		if t, ok := data["track"].(map[string]any); ok {
			fmt.Printf("  Track: %v - %v\n", t["title"], t["artist"])
		}
		fmt.Printf("  Overlay Visible: %v\n", data["overlay_visible"])
	}
}
