package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ElishaAz/VR-Navigation/pkg/client"
)

func main() {
	endpoint := flag.String("endpoint", client.DefaultEndpoint, "vrnav-d base URL")
	sessionID := flag.String("session", "", "attach to an existing session instead of starting one")
	mapName := flag.String("map", "", "map name for a new session")
	version := flag.Float64("version", 1, "map version for a new session")
	policy := flag.String("policy", "", "cache policy for a new session (daemon default when empty)")
	keep := flag.Bool("keep", false, "leave the session running on exit")
	flag.Parse()

	c := client.NewClient(*endpoint)

	id, owned, err := resolveSession(c, *sessionID, client.StartOptions{Name: *mapName, Version: *version, Policy: *policy})
	if err != nil {
		fmt.Fprintf(os.Stderr, "vrnav-tui: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(c, id), tea.WithAltScreen())
	_, runErr := p.Run()

	if owned && !*keep {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.EndSession(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "vrnav-tui: end session: %v\n", err)
		}
		cancel()
	}
	if runErr != nil {
		fmt.Printf("Alas, there's been an error: %v", runErr)
		os.Exit(1)
	}
}

// resolveSession returns the session to drive and whether this process
// started it.
func resolveSession(c *client.Client, existing string, opts client.StartOptions) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if existing != "" {
		if _, err := c.GetSession(ctx, existing); err != nil {
			return "", false, err
		}
		return existing, false, nil
	}
	if opts.Name == "" {
		return "", false, errors.New("either -session or -map is required")
	}
	sess, err := c.StartSession(ctx, opts)
	if err != nil {
		return "", false, err
	}
	return sess.SessionID, true, nil
}
