package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"callcoach/internal/bootstrap"
)

func main() {
	roleplayID := flag.String("roleplay", "", "roleplay id to open (defaults to CALLCOACH_ROLEPLAY)")
	logPath := flag.String("log", filepath.Join(os.TempDir(), "callcoach-tui.log"), "log file")
	flag.Parse()

	logFile, err := tea.LogToFile(*logPath, "callcoach")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &programSink{}
	services, err := bootstrap.Build(ctx, sink, bootstrap.WithLogOutput(logFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer services.Close()

	id := *roleplayID
	if id == "" {
		id = services.Config.Roleplay.ID
	}

	p := tea.NewProgram(newModel(services.Host, id, services.VoiceEnabled), tea.WithAltScreen())
	sink.attach(p)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
