package adapter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
)

// CLIAdapter is the interactive terminal channel. Approval prompts print to
// stdout; answers are read line by line and forwarded as user messages.
type CLIAdapter struct {
	eventHandler EventHandler
	sessionID    string
	running      bool

	promptStyle lipgloss.Style
	denyStyle   lipgloss.Style
	infoStyle   lipgloss.Style
}

func NewCLIAdapter(sessionID string, eventHandler EventHandler) *CLIAdapter {
	if sessionID == "" {
		sessionID = "cli"
	}
	return &CLIAdapter{
		eventHandler: eventHandler,
		sessionID:    sessionID,
		promptStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		denyStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	}
}

func (a *CLIAdapter) Name() string {
	return "cli"
}

func (a *CLIAdapter) Send(ctx context.Context, sessionID string, content string) error {
	style := a.infoStyle
	switch {
	case strings.HasPrefix(content, "Approval required"):
		style = a.promptStyle
	case strings.HasPrefix(content, "Denied"), strings.HasPrefix(content, "Blocked"):
		style = a.denyStyle
	}

	fmt.Printf("\r\033[K")
	fmt.Println(style.Render(content))
	fmt.Print("> ")
	return nil
}

func (a *CLIAdapter) Start(ctx context.Context) error {
	a.running = true
	fmt.Println("Interactive approval channel started. Answer with yes/no or /approve <id>, /deny <id>.")
	fmt.Print("> ")

	go a.readLoop(ctx)

	go func() {
		<-ctx.Done()
		a.running = false
	}()

	return nil
}

func (a *CLIAdapter) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	seq := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		seq++
		metadata := map[string]string{
			"event_id": fmt.Sprintf("cli:%d", seq),
		}
		if a.eventHandler != nil {
			if err := a.eventHandler(ctx, "cli", "user_message", a.sessionID, line, metadata); err != nil {
				fmt.Println(a.denyStyle.Render("Error: " + err.Error()))
			}
		}
		fmt.Print("> ")
	}
}

func (a *CLIAdapter) Stop(ctx context.Context) error {
	a.running = false
	return nil
}

func (a *CLIAdapter) Health(ctx context.Context) error {
	return nil
}
