package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"

	flag "github.com/spf13/pflag"

	"github.com/ernie/milsim/internal/domain"
)

func cmdGame(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: game subcommand required: list, show, create\n")
		os.Exit(1)
	}

	subCmd := args[0]
	fs := flag.NewFlagSet("game "+subCmd, flag.ExitOnError)
	username := fs.String("user", "", "user to log in as")
	totalTime := fs.Int("time", 0, "game length in seconds (0 = unlimited)")
	_, remaining := loadCLIConfig(fs, args[1:])

	var err error
	switch subCmd {
	case "list":
		err = cmdGameList()
	case "show":
		err = cmdGameShow(remaining)
	case "create":
		err = cmdGameCreate(*username, *totalTime, remaining)
	default:
		err = fmt.Errorf("unknown game command: %s (use: list, show, create)", subCmd)
	}
	if err != nil {
		fatal(err)
	}
}

func cmdGameList() error {
	var games []domain.GameSummary
	if err := getJSON("/api/games", &games); err != nil {
		return err
	}
	if len(games) == 0 {
		fmt.Println("No games")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tELAPSED\tREMAINING\tPLAYERS")
	fmt.Fprintln(w, "--\t----\t------\t-------\t---------\t-------")
	for _, g := range games {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\n", g.ID, g.Name, g.Status,
			formatSeconds(g.ElapsedTime), formatRemaining(domain.Remaining(g.TotalTime, g.ElapsedTime)), g.Players)
	}
	return w.Flush()
}

func cmdGameShow(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: milsim game show <id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid game id: %s", args[0])
	}

	var g domain.Game
	if err := doJSON(context.Background(), http.MethodGet, fmt.Sprintf("/api/games/%d", id), os.Getenv("MILSIM_TOKEN"), nil, &g); err != nil {
		return err
	}

	fmt.Printf("Game %d: %s\n", g.ID, g.Name)
	fmt.Printf("Status:    %s\n", g.Status)
	fmt.Printf("Elapsed:   %s\n", formatSeconds(g.ElapsedTime))
	fmt.Printf("Remaining: %s\n", formatRemaining(g.RemainingTime))
	fmt.Printf("Players:   %d\n", len(g.Players))
	fmt.Println()

	if len(g.ControlPoints) == 0 {
		fmt.Println("No control points")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tOWNER\tHOLD\tCHALLENGES\tBOMB")
	fmt.Fprintln(w, "--\t----\t----\t-----\t----\t----------\t----")
	for _, cp := range g.ControlPoints {
		owner := "-"
		if cp.OwnedByTeam != nil {
			owner = *cp.OwnedByTeam
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", cp.ID, cp.Name, cp.Type, owner,
			formatSeconds(cp.CurrentHoldTime), challengeList(cp.Challenges), bombState(cp.BombTimer))
	}
	return w.Flush()
}

func cmdGameCreate(username string, totalTime int, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: milsim game create --user <username> [--time seconds] <name>")
	}
	ctx := context.Background()
	token, err := login(ctx, username)
	if err != nil {
		return err
	}

	var g domain.Game
	body := map[string]any{"name": args[0], "totalTime": totalTime}
	if err := doJSON(ctx, http.MethodPost, "/api/games", token, body, &g); err != nil {
		return err
	}
	fmt.Printf("Game %d '%s' created\n", g.ID, g.Name)
	return nil
}

func challengeList(ch domain.Challenges) string {
	s := ""
	add := func(name string) {
		if s != "" {
			s += ","
		}
		s += name
	}
	if ch.Position != nil {
		add("position")
	}
	if ch.Code != nil {
		add("code")
	}
	if ch.Bomb != nil {
		add("bomb")
	}
	if s == "" {
		return "-"
	}
	return s
}

func bombState(b *domain.BombTimer) string {
	switch {
	case b == nil:
		return "-"
	case b.Detonated:
		return "detonated"
	case b.IsActive:
		return "armed " + formatSeconds(b.RemainingTime)
	default:
		return "disarmed " + formatSeconds(b.RemainingTime)
	}
}

// formatSeconds renders seconds as m:ss or h:mm:ss
func formatSeconds(sec int) string {
	if sec < 0 {
		sec = 0
	}
	h, m, s := sec/3600, (sec%3600)/60, sec%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatRemaining(r *int) string {
	if r == nil {
		return "unlimited"
	}
	return formatSeconds(*r)
}
