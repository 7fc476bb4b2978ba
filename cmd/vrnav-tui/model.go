package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ElishaAz/VR-Navigation/pkg/client"
)

const (
	pollRate       = time.Second
	requestTimeout = 2 * time.Second
	turnStep       = 15.0 // degrees per left/right key press
	maxLog         = 50
	viewportHeight = 8
)

var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(80)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(80)

	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	loadedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	captionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Italic(true)
)

// tourAPI is the part of the daemon client the viewer drives.
type tourAPI interface {
	GetSession(ctx context.Context, id string) (client.Session, error)
	GoTo(ctx context.Context, id string, location int) (client.Session, error)
	Hover(ctx context.Context, id string, location int) (client.Session, error)
	Unhover(ctx context.Context, id string, location int) (client.Session, error)
	SetOrientation(ctx context.Context, id string, degrees float64) error
}

type tickMsg time.Time

// sessionMsg carries the outcome of any call that returns the session.
type sessionMsg struct {
	action  string
	session client.Session
	err     error
}

type orientationMsg struct {
	degrees float64
	err     error
}

type model struct {
	api       tourAPI
	sessionID string

	spinner  spinner.Model
	viewport viewport.Model

	session     client.Session
	selected    int
	hovered     int // location id, -1 when nothing is hovered
	orientation float64
	log         []string
	err         error
	ready       bool
}

func newModel(api tourAPI, sessionID string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		api:       api,
		sessionID: sessionID,
		spinner:   s,
		viewport:  newViewport(80),
		hovered:   -1,
	}
}

func newViewport(width int) viewport.Model {
	vp := viewport.New(width, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return vp
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.call("refresh", m.api.GetSession), tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		return m, tea.Batch(m.call("refresh", m.api.GetSession), tick())

	case sessionMsg:
		m.err = msg.err
		if msg.err != nil {
			m.appendLog(errorStyle.Render(fmt.Sprintf("%s failed: %v", msg.action, msg.err)))
			return m, nil
		}
		prev := m.session.State.Current.ID
		m.session = msg.session
		m.ready = true
		if msg.action == "goto" || prev != m.session.State.Current.ID {
			m.selected = 0
			m.hovered = -1
			m.appendLog(fmt.Sprintf("entered location %d (%s)", m.session.State.Current.ID, m.session.State.Current.Path))
		}
		m.clampSelection()

	case orientationMsg:
		m.err = msg.err
		if msg.err == nil {
			m.orientation = msg.degrees
		}

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		return m.moveSelection(-1)
	case "down", "j":
		return m.moveSelection(1)
	case "left", "h":
		return m, m.turn(-turnStep)
	case "right", "l":
		return m, m.turn(turnStep)
	case "enter":
		t, ok := m.current()
		if !ok {
			return m, nil
		}
		m.appendLog(fmt.Sprintf("following hotspot to %d", t.To))
		return m, m.call("goto", func(ctx context.Context, id string) (client.Session, error) {
			return m.api.GoTo(ctx, id, t.To)
		})
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// moveSelection shifts the highlighted hotspot. The previously hovered
// hotspot is released and the new one is hovered so its image warms up.
func (m model) moveSelection(delta int) (tea.Model, tea.Cmd) {
	n := len(m.session.State.Transitions)
	if n == 0 {
		return m, nil
	}
	m.selected = (m.selected + delta + n) % n
	t := m.session.State.Transitions[m.selected]

	prev := m.hovered
	m.hovered = t.To
	api := m.api
	return m, m.call("hover", func(ctx context.Context, id string) (client.Session, error) {
		if prev >= 0 && prev != t.To {
			if _, err := api.Unhover(ctx, id, prev); err != nil {
				return client.Session{}, err
			}
		}
		return api.Hover(ctx, id, t.To)
	})
}

func (m model) turn(delta float64) tea.Cmd {
	deg := math.Mod(m.orientation+delta+360, 360)
	api, id := m.api, m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return orientationMsg{degrees: deg, err: api.SetOrientation(ctx, id, deg)}
	}
}

func (m model) call(action string, fn func(ctx context.Context, id string) (client.Session, error)) tea.Cmd {
	id := m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		sess, err := fn(ctx, id)
		return sessionMsg{action: action, session: sess, err: err}
	}
}

func (m *model) current() (client.Transition, bool) {
	ts := m.session.State.Transitions
	if m.selected < 0 || m.selected >= len(ts) {
		return client.Transition{}, false
	}
	return ts[m.selected], true
}

func (m *model) clampSelection() {
	if n := len(m.session.State.Transitions); m.selected >= n {
		m.selected = max(n-1, 0)
	}
}

func (m *model) appendLog(line string) {
	m.log = append(m.log, fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), line))
	if len(m.log) > maxLog {
		m.log = m.log[len(m.log)-maxLog:]
	}
	m.viewport.SetContent(strings.Join(m.log, "\n"))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting...", m.spinner.View())
	}
	st := m.session.State

	var loc strings.Builder
	title := fmt.Sprintf("%s • location %d", st.Map, st.Current.ID)
	if st.Terminal {
		title += " • end point"
	}
	loc.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render(title) + "\n")
	loc.WriteString(subtleStyle.Render(fmt.Sprintf("%s • facing %.0f° • policy %s", st.Current.Path, m.orientation, st.Policy)) + "\n\n")

	if len(st.Transitions) == 0 {
		loc.WriteString(subtleStyle.Render("No hotspots here."))
	}
	for i, t := range st.Transitions {
		line := fmt.Sprintf("%3.0f° → %d", t.Azimuth, t.To)
		if t.Terminal {
			line += " (end)"
		}
		if t.Loaded {
			line += " " + loadedStyle.Render("●")
		}
		if i == m.selected {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		loc.WriteString(line + "\n")
	}

	var captions strings.Builder
	for _, t := range m.session.ActiveTexts {
		captions.WriteString(captionStyle.Render(t.Text) + "\n")
	}

	header := headerStyle.Render(fmt.Sprintf("%s Tour log", m.spinner.View()))

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Online • session %s • %d cached", m.sessionID, len(st.Cache)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\n↑/↓ hover • enter follow • ←/→ turn • q quit", status))

	parts := []string{paneStyle.Render(loc.String())}
	if captions.Len() > 0 {
		parts = append(parts, captions.String())
	}
	parts = append(parts, header, m.viewport.View(), footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
