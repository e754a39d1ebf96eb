package main

import (
	"flag"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rovshanmuradov/toxi-relay/internal/ui"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Base URL of the relay dashboard")
	interval := flag.Duration("interval", 5*time.Second, "Refresh interval")
	flag.Parse()

	program := tea.NewProgram(
		ui.NewModel(ui.NewClient(*addr), *interval),
		tea.WithAltScreen(),
	)
	if _, err := program.Run(); err != nil {
		log.Fatalf("TUI application failed: %v", err)
	}
}
