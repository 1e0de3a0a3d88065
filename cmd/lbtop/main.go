// lbtop is a terminal leaderboard viewer for challenge operators: it polls a
// phase split's ranked standings and redraws them live while an evaluation
// batch is running.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kaggleboard/backend/challenge"
	"github.com/kaggleboard/backend/conf"
	"github.com/kaggleboard/backend/leaderboard"
)

const pollInterval = 3 * time.Second

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3498db"))
	rankStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f1c40f"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e74c3c"))
)

type boardMsg struct {
	entries []leaderboard.Entry
	schema  *challenge.LeaderboardSchema
	err     error
}

type tickMsg struct{}

type model struct {
	srvc         *leaderboard.Srvc
	phaseSplitID int64

	spinner   spinner.Model
	entries   []leaderboard.Entry
	schema    *challenge.LeaderboardSchema
	lastErr   error
	refreshed time.Time
}

func newModel(srvc *leaderboard.Srvc, phaseSplitID int64) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return model{srvc: srvc, phaseSplitID: phaseSplitID, spinner: sp}
}

func (m model) fetch() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	entries, schema, err := m.srvc.Get(ctx, m.phaseSplitID, true)
	return boardMsg{entries: entries, schema: schema, err: err}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, m.fetch
		}
	case tickMsg:
		return m, m.fetch
	case boardMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.entries = msg.entries
			m.schema = msg.schema
			m.refreshed = time.Now()
		}
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	s := headerStyle.Render(fmt.Sprintf("leaderboard for phase split %d", m.phaseSplitID)) + "\n\n"

	if m.lastErr != nil {
		s += errStyle.Render("error: "+m.lastErr.Error()) + "\n\n"
	}
	if m.schema == nil {
		return s + m.spinner.View() + " loading...\n"
	}

	s += headerStyle.Render(fmt.Sprintf("%-5s %-24s", "rank", "team"))
	for _, label := range m.schema.Labels {
		s += headerStyle.Render(fmt.Sprintf(" %12s", label))
	}
	s += "\n"

	for _, entry := range m.entries {
		s += rankStyle.Render(fmt.Sprintf("%-5d", entry.Rank))
		s += fmt.Sprintf(" %-24s", entry.TeamName)
		for _, val := range entry.Metrics {
			s += fmt.Sprintf(" %12.4f", val)
		}
		s += "\n"
	}
	if len(m.entries) == 0 {
		s += "no ranked submissions yet\n"
	}

	s += fmt.Sprintf("\n%s refreshed %s | r refresh, q quit\n",
		m.spinner.View(), m.refreshed.Format("15:04:05"))
	return s
}

func main() {
	_ = godotenv.Load()
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: lbtop <phase-split-id>")
	}
	phaseSplitID, err := strconv.ParseInt(flag.Arg(0), 10, 64)
	if err != nil {
		log.Fatalf("invalid phase split id: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), conf.GetPgConnStrFromEnv())
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	srvc := leaderboard.NewSrvc(challenge.NewPgRepo(pool), leaderboard.NewPgStore(pool))

	if _, err := tea.NewProgram(newModel(srvc, phaseSplitID)).Run(); err != nil {
		log.Fatalf("lbtop failed: %v", err)
	}
}
