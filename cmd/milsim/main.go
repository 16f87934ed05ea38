// milsim - real-time game state server for milsim capture games
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/milsim/internal/config"
)

var version = "dev"

const defaultConfigPath = "/etc/milsim/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	switch os.Args[1] {
	case "init":
		cmdInit(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "game":
		cmdGame(os.Args[2:])
	case "watch":
		cmdWatch(os.Args[2:])
	case "version":
		fmt.Printf("milsim %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: milsim <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                                Write a default config with a fresh JWT secret")
	fmt.Println("  serve                               Start the game server")
	fmt.Println("  user add [--admin] <username>       Add a user (prompts for password)")
	fmt.Println("  user remove <username>              Remove a user")
	fmt.Println("  user list                           List all users")
	fmt.Println("  user reset <username>               Reset a user's password")
	fmt.Println("  user admin <username>               Toggle admin status for a user")
	fmt.Println("  game list                           List games")
	fmt.Println("  game show <id>                      Show a game and its control points")
	fmt.Println("  game create --user <u> [--time S] <name>")
	fmt.Println("                                      Create a game owned by <u>")
	fmt.Println("  watch --user <u> [--team T] <id>    Follow a game live in the terminal")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/milsim/config.yml)")
	fmt.Println("  --url <url>        Base URL of the milsim server (default: derived from config)")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  MILSIM_JWT_SECRET, MILSIM_DB_PATH, MILSIM_NATS_URL, MILSIM_LOG_LEVEL override the config file;")
	fmt.Println("  a .env file in the working directory is loaded first.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  milsim init --config ./milsim.yml")
	fmt.Println("  milsim serve --config ./milsim.yml")
	fmt.Println("  milsim user add --admin gamemaster")
	fmt.Println("  milsim game create --user gamemaster --time 3600 \"Operation Nightfall\"")
	fmt.Println("  milsim watch --user alice --team red 1")
}

// setupLogging configures the global zerolog logger
func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	console := cfg.Format == "console" || (cfg.Format == "" && term.IsTerminal(int(os.Stderr.Fd())))
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// resolveConfigPath returns the config file to load, or "" to run on
// defaults when none was given and the default path does not exist
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// CLI helper variables
var baseURL = "http://localhost:8080"

// loadCLIConfig parses the global flags of a client command
func loadCLIConfig(fs *flag.FlagSet, args []string) (*config.Config, []string) {
	configPath := fs.String("config", "", "path to configuration file")
	url := fs.String("url", "", "base URL of the milsim server")
	fs.Parse(args)

	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Defaults()
	}
	setupLogging(cfg.Log)

	if *url != "" {
		baseURL = strings.TrimRight(*url, "/")
	} else {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	return cfg, fs.Args()
}

func getJSON(path string, target any) error {
	return doJSON(context.Background(), http.MethodGet, path, "", nil, target)
}

func doJSON(ctx context.Context, method, path, token string, body, target any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// readPassword prompts for a password without echo
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

// readNewPassword prompts for a password twice
func readNewPassword(prompt string) (string, error) {
	password, err := readPassword(prompt)
	if err != nil {
		return "", err
	}
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}

// login returns a token for username. MILSIM_TOKEN skips the prompt.
func login(ctx context.Context, username string) (string, error) {
	if tok := os.Getenv("MILSIM_TOKEN"); tok != "" {
		return tok, nil
	}
	if username == "" {
		return "", fmt.Errorf("--user is required (or set MILSIM_TOKEN)")
	}
	password, err := readPassword(fmt.Sprintf("Password for %s: ", username))
	if err != nil {
		return "", err
	}
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := doJSON(ctx, http.MethodPost, "/api/auth/login", "", body, &resp); err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	return resp.Token, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
