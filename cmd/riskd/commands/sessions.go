package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/pagelock/riskd/sdk"
)

func newSessionsCmd() *cobra.Command {
	var serverURL string
	var watch bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List live sessions on a running server",
		Example: `  riskd sessions
  riskd sessions --watch
  riskd sessions --server http://localhost:8660`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient(serverURL)

			if watch {
				return watchSessions(client)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			snaps, err := client.Sessions(ctx)
			if err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}
			if len(snaps) == 0 {
				fmt.Println("No live sessions.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "SESSION\tFINGERPRINT\tSCORE\tLEVEL\tLAST EVENT\n") //nolint:errcheck // CLI output
			for _, s := range snaps {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", //nolint:errcheck // CLI output
					s.ID, shortHash(s.Fingerprint), s.Score, colorLevel(s.Level),
					s.LastEventAt.Local().Format(time.TimeOnly))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8660", "riskd server URL")
	cmd.Flags().BoolVar(&watch, "watch", false, "live-updating session table")
	return cmd
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Padding(0, 1)
	watchErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	watchHelpStyle  = lipgloss.NewStyle().Faint(true)
	watchBaseStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
)

type sessionsMsg []sdk.Session

type watchErrMsg struct{ err error }

type watchTickMsg struct{}

type watchModel struct {
	client  *sdk.Client
	table   table.Model
	err     error
	updated time.Time
}

func newWatchModel(client *sdk.Client) watchModel {
	columns := []table.Column{
		{Title: "SESSION", Width: 24},
		{Title: "FINGERPRINT", Width: 14},
		{Title: "SCORE", Width: 6},
		{Title: "LEVEL", Width: 12},
		{Title: "LAST EVENT", Width: 10},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(styles)
	return watchModel{client: client, table: t}
}

func (m watchModel) Init() tea.Cmd {
	return m.poll
}

func (m watchModel) poll() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snaps, err := m.client.Sessions(ctx)
	if err != nil {
		return watchErrMsg{err: err}
	}
	return sessionsMsg(snaps)
}

func watchTick() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg {
		return watchTickMsg{}
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case watchTickMsg:
		return m, m.poll
	case sessionsMsg:
		rows := make([]table.Row, 0, len(msg))
		for _, s := range msg {
			rows = append(rows, table.Row{
				s.ID,
				shortHash(s.Fingerprint),
				fmt.Sprintf("%d", s.Score),
				s.Level,
				s.LastEventAt.Local().Format(time.TimeOnly),
			})
		}
		m.table.SetRows(rows)
		m.err = nil
		m.updated = time.Now()
		return m, watchTick()
	case watchErrMsg:
		m.err = msg.err
		return m, watchTick()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m watchModel) View() string {
	header := watchTitleStyle.Render("riskd sessions")
	if !m.updated.IsZero() {
		header += watchHelpStyle.Render("  updated " + m.updated.Format(time.TimeOnly))
	}
	body := watchBaseStyle.Render(m.table.View())
	if m.err != nil {
		body = watchErrStyle.Render("error: "+m.err.Error()) + "\n" + body
	}
	return header + "\n" + body + "\n" + watchHelpStyle.Render("q to quit") + "\n"
}

func watchSessions(client *sdk.Client) error {
	_, err := tea.NewProgram(newWatchModel(client), tea.WithAltScreen()).Run()
	return err
}
