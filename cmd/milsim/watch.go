package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/milsim/internal/client"
	"github.com/ernie/milsim/internal/domain"
	"github.com/ernie/milsim/internal/reconcile"
)

// cmdWatch follows one game over the websocket and redraws its timers
// every second
func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	username := fs.String("user", "", "user to log in as")
	team := fs.String("team", "", "team to join")
	cfg, remaining := loadCLIConfig(fs, args)

	if len(remaining) < 1 {
		fatal(fmt.Errorf("usage: milsim watch --user <username> [--team T] <game id>"))
	}
	gameID, err := strconv.ParseInt(remaining[0], 10, 64)
	if err != nil {
		fatal(fmt.Errorf("invalid game id: %s", remaining[0]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, err := login(ctx, *username)
	if err != nil {
		fatal(err)
	}

	rec := reconcile.New(ctx, clockwork.NewRealClock(), reconcile.Options{Interval: cfg.Game.TickInterval})
	defer rec.Close()

	c := client.New(client.Config{
		URL:    "ws" + strings.TrimPrefix(baseURL, "http") + "/ws",
		Token:  token,
		GameID: gameID,
		Team:   *team,
	}, rec)

	var mu sync.Mutex
	lastErr := ""
	c.OnError = func(e domain.ErrorEvent) {
		mu.Lock()
		lastErr = fmt.Sprintf("%s: %s", e.Code, e.Message)
		mu.Unlock()
	}
	go c.Run(ctx)

	redraw := term.IsTerminal(int(os.Stdout.Fd()))
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if redraw {
				fmt.Print("\033[H\033[2J")
			}
			mu.Lock()
			msg := lastErr
			mu.Unlock()
			render(os.Stdout, gameID, rec.View(), rec.Stale(), msg)
		}
	}
}

// render draws a reconciled view
func render(w io.Writer, gameID int64, v reconcile.View, stale bool, lastErr string) {
	fmt.Fprintf(w, "Game %d  %s  elapsed %s  remaining %s\n", gameID, v.Status, formatSeconds(v.Elapsed), formatRemaining(v.Remaining))
	if stale {
		fmt.Fprintln(w, "(no update from server, reconnecting)")
	}

	ids := make([]int64, 0, len(v.Holds))
	for id := range v.Holds {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		h := v.Holds[id]
		owner := "neutral"
		if h.Team != nil {
			owner = *h.Team
		}
		line := fmt.Sprintf("  CP %-4d %-10s held %s", id, owner, formatSeconds(h.Seconds))
		if b, ok := v.Bombs[id]; ok {
			state := "disarmed"
			if b.Active {
				state = "ARMED"
			} else if b.Remaining == 0 {
				state = "detonated"
			}
			line += fmt.Sprintf("  bomb %s %s", state, formatSeconds(b.Remaining))
		}
		if points := v.Contests[id]; len(points) > 0 {
			teams := make([]string, 0, len(points))
			for t := range points {
				teams = append(teams, t)
			}
			slices.Sort(teams)
			parts := make([]string, len(teams))
			for i, t := range teams {
				parts[i] = fmt.Sprintf("%s=%d", t, points[t])
			}
			line += "  contest " + strings.Join(parts, " ")
		}
		fmt.Fprintln(w, line)
	}
	if lastErr != "" {
		fmt.Fprintf(w, "last error: %s\n", lastErr)
	}
}
