package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/smallbiznis/shopassist/internal/chatclient"
	"github.com/smallbiznis/shopassist/internal/tui"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("SHOPASSIST_URL", "http://localhost:8080"), "shopassist API base URL")
	user := flag.String("user", envOr("SHOPASSIST_USER", ""), "user id sent with every message")
	session := flag.String("session", "", "resume an existing session id")
	timeout := flag.Duration("timeout", 45*time.Second, "per-request timeout")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "usage: shopassist-chat --user=<id> [--server=URL] [--session=ID]")
		os.Exit(2)
	}

	client := chatclient.New(*server, *user, *timeout)
	p := tea.NewProgram(tui.New(client, *user, *session), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
