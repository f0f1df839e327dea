package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pion/webrtc/v4"

	"github.com/tomaslejdung/peeplink/pkg/connection"
	"github.com/tomaslejdung/peeplink/pkg/cursor"
	"github.com/tomaslejdung/peeplink/pkg/overlay"
	"github.com/tomaslejdung/peeplink/pkg/peer"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	urlStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	viewerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	// Keybind styles
	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")) // Cyan for keys

	keySepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Dim separator

	toggleActiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10")) // Green for active toggles

	toggleInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("8")) // Dim for inactive toggles

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

// Messages
type phaseMsg connection.Phase

type urlMsg string

type iceMsg webrtc.ICEConnectionState

type errMsg struct{ err error }

type cursorMsg cursor.RemoteCursorState

type pingMsg string

type channelMsg struct {
	label string
	open  bool
}

// startedMsg reports the result of Share or Watch.
type startedMsg struct {
	url string
	err error
}

// acceptedMsg reports the result of applying a reply link.
type acceptedMsg struct{ err error }

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model
type model struct {
	ctx    context.Context
	app    *App
	mode   mode
	link   string
	events chan tea.Msg

	phase    connection.Phase
	ice      string
	url      string
	connType peer.ConnectionType
	starting bool
	applying bool

	micEnabled     bool
	cursorsEnabled bool
	channels       map[string]bool
	cursors        *overlay.Overlay

	lastError       string
	copyMessage     string
	copyMessageTime time.Time
	connectedAt     time.Time

	width  int
	height int
}

func newModel(ctx context.Context, app *App, m mode, link string) model {
	md := model{
		ctx:            ctx,
		app:            app,
		mode:           m,
		link:           link,
		events:         make(chan tea.Msg, 64),
		phase:          connection.PhaseIdle,
		micEnabled:     app.cfg.MicEnabled,
		cursorsEnabled: app.cfg.CursorsEnabled,
		channels:       make(map[string]bool),
		cursors:        overlay.New(),
	}
	md.cursors.SetEnabled(md.cursorsEnabled)
	app.Handle(md.handlers())
	return md
}

// handlers forward manager callbacks into the program. Cursor traffic is
// dropped when the program lags; everything else blocks briefly.
func (m model) handlers() connection.Handlers {
	send := func(msg tea.Msg) {
		select {
		case m.events <- msg:
		case <-m.ctx.Done():
		}
	}
	return connection.Handlers{
		OnPhaseChange:    func(p connection.Phase) { send(phaseMsg(p)) },
		OnURLGenerated:   func(url string) { send(urlMsg(url)) },
		OnICEStateChange: func(s webrtc.ICEConnectionState) { send(iceMsg(s)) },
		OnError:          func(err error) { send(errMsg{err}) },
		OnCursorUpdate: func(st cursor.RemoteCursorState) {
			select {
			case m.events <- cursorMsg(st):
			default:
			}
		},
		OnCursorPing:   func(id string) { send(pingMsg(id)) },
		OnChannelOpen:  func(label string) { send(channelMsg{label: label, open: true}) },
		OnChannelClose: func(label string) { send(channelMsg{label: label}) },
	}
}

func (m model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.events:
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), m.startCmd(), tickCmd())
}

// startCmd runs Share or Watch off the UI goroutine.
func (m model) startCmd() tea.Cmd {
	app, ctx, md, link := m.app, m.ctx, m.mode, m.link
	return func() tea.Msg {
		var (
			url string
			err error
		)
		if md == modeShare {
			url, err = app.Share(ctx)
		} else {
			url, err = app.Watch(ctx, link)
		}
		return startedMsg{url: url, err: err}
	}
}

func (m model) acceptCmd(auto bool) tea.Cmd {
	app, ctx := m.app, m.ctx
	return func() tea.Msg {
		if auto {
			return acceptedMsg{err: app.AutoAccept(ctx)}
		}
		return acceptedMsg{err: app.AcceptAnswer(ctx, "")}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		if m.copyMessage != "" && time.Since(m.copyMessageTime) > 2*time.Second {
			m.copyMessage = ""
		}
		return m, tickCmd()

	case startedMsg:
		m.starting = false
		if msg.err != nil {
			if !errors.Is(msg.err, connection.ErrOperationInProgress) {
				m.lastError = msg.err.Error()
			}
			return m, nil
		}
		m.url = msg.url
		m.lastError = ""
		m.copyMessage = "Copied!"
		m.copyMessageTime = time.Now()
		if m.mode == modeShare && m.app.cfg.AutoAccept {
			m.applying = true
			return m, m.acceptCmd(true)
		}
		return m, nil

	case acceptedMsg:
		m.applying = false
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.lastError = msg.err.Error()
		}
		return m, nil

	case phaseMsg:
		m.phase = connection.Phase(msg)
		switch m.phase {
		case connection.PhaseConnected:
			m.lastError = ""
			m.connectedAt = time.Now()
			m.connType = m.app.ConnectionType()
		case connection.PhaseDisconnected, connection.PhaseIdle:
			m.cursors.Clear()
			m.connType = ""
			m.channels = make(map[string]bool)
		}
		return m, m.waitForEvent()

	case urlMsg:
		m.url = string(msg)
		return m, m.waitForEvent()

	case iceMsg:
		m.ice = webrtc.ICEConnectionState(msg).String()
		return m, m.waitForEvent()

	case errMsg:
		m.lastError = msg.err.Error()
		return m, m.waitForEvent()

	case cursorMsg:
		m.cursors.Update(cursor.RemoteCursorState(msg))
		return m, m.waitForEvent()

	case pingMsg:
		m.cursors.Ping(string(msg))
		return m, m.waitForEvent()

	case channelMsg:
		m.channels[msg.label] = msg.open
		return m, m.waitForEvent()
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "c":
		// Copy the current link again
		if m.url == "" {
			return m, nil
		}
		if err := m.app.CopyURL(m.url); err != nil {
			m.lastError = "Failed to copy: " + err.Error()
		} else {
			m.copyMessage = "Copied!"
			m.copyMessageTime = time.Now()
		}
		return m, nil

	case "v", "enter":
		// Apply the watcher's reply from the clipboard
		if m.mode != modeShare || m.applying || m.url == "" || m.phase == connection.PhaseConnected {
			return m, nil
		}
		m.applying = true
		m.lastError = ""
		return m, m.acceptCmd(false)

	case "m":
		s := m.app.Session()
		if s == nil {
			return m, nil
		}
		m.micEnabled = !s.IsAudioEnabled()
		s.ToggleAudio(m.micEnabled)
		return m, nil

	case "x":
		m.cursorsEnabled = !m.cursorsEnabled
		if s := m.app.Session(); s != nil {
			m.cursorsEnabled = s.ToggleCursors(m.cursorsEnabled)
		}
		m.cursors.SetEnabled(m.cursorsEnabled)
		return m, nil

	case "p":
		if s := m.app.Session(); s != nil && !s.SendCursorPing() {
			m.lastError = "Ping not sent: cursor channel not open"
		}
		return m, nil

	case "d":
		app := m.app
		return m, func() tea.Msg {
			app.Disconnect()
			return nil
		}

	case "r":
		// Start over after a disconnect or failure
		if m.starting || (m.phase != connection.PhaseDisconnected && m.phase != connection.PhaseError) {
			return m, nil
		}
		m.starting = true
		m.url = ""
		m.lastError = ""
		m.link = ""
		return m, m.startCmd()
	}
	return m, nil
}

// handleMouse sends the pointer position, relative to the terminal, as the
// local cursor while connected.
func (m model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if m.phase != connection.PhaseConnected || !m.cursorsEnabled || m.width <= 1 || m.height <= 1 {
		return m, nil
	}
	s := m.app.Session()
	if s == nil {
		return m, nil
	}
	x := float64(msg.X) / float64(m.width-1)
	y := float64(msg.Y) / float64(m.height-1)
	if msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft {
		s.SendCursorPing()
		return m, nil
	}
	s.SendCursorUpdate(min(x, 1), min(y, 1))
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	// Title
	b.WriteString(titleStyle.Render("PeepLink"))
	b.WriteString(dimStyle.Render(" - P2P Screen Sharing over links"))
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n")

	if m.url != "" {
		b.WriteString(m.renderLink())
		b.WriteString("\n")
	}

	b.WriteString(m.renderHint())
	b.WriteString("\n")

	if m.phase == connection.PhaseConnected {
		b.WriteString("\n")
		b.WriteString(m.renderSession())
	}

	// Error message
	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
		b.WriteString("\n")
	}

	// Help
	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

func (m model) renderStatus() string {
	var b strings.Builder

	// Role indicator
	if m.mode == modeShare {
		b.WriteString(selectedStyle.Render("[SHARING]"))
	} else {
		b.WriteString(viewerStyle.Render("[WATCHING]"))
	}
	b.WriteString("  ")

	b.WriteString(statusStyle.Render("As: "))
	b.WriteString(normalStyle.Render(m.app.Username()))
	b.WriteString("  ")

	b.WriteString(statusStyle.Render("Phase: "))
	b.WriteString(phaseStyle(m.phase).Render(m.phase.String()))

	if m.ice != "" {
		b.WriteString("  ")
		b.WriteString(statusStyle.Render("ICE: "))
		b.WriteString(dimStyle.Render(m.ice))
	}
	return b.String()
}

func phaseStyle(p connection.Phase) lipgloss.Style {
	switch p {
	case connection.PhaseConnected:
		return selectedStyle
	case connection.PhaseError, connection.PhaseDisconnected:
		return errorStyle
	case connection.PhaseIdle:
		return dimStyle
	default:
		return viewerStyle
	}
}

func (m model) renderLink() string {
	var b strings.Builder
	label := "Share link: "
	if m.mode == modeWatch {
		label = "Reply link: "
	}
	b.WriteString(statusStyle.Render(label))

	limit := 60
	if m.width > len(label)+20 {
		limit = m.width - len(label) - 14
	}
	b.WriteString(urlStyle.Render(truncate(m.url, limit)))
	b.WriteString(dimStyle.Render(fmt.Sprintf(" (%d chars)", len(m.url))))
	// Show copy message if present
	if m.copyMessage != "" {
		b.WriteString("  ")
		b.WriteString(selectedStyle.Render(m.copyMessage))
	}
	return b.String()
}

func (m model) renderHint() string {
	var hint string
	switch {
	case m.starting:
		hint = "Starting, please wait..."
	case m.phase == connection.PhaseInitializing:
		if m.mode == modeShare {
			hint = "Capturing the screen and gathering network candidates..."
		} else {
			hint = "Answering the share link..."
		}
	case m.phase == connection.PhaseWaitingForOffer:
		hint = "Waiting for a share link in the clipboard..."
	case m.phase == connection.PhaseWaitingForAnswer && m.applying && m.app.cfg.AutoAccept:
		hint = "Send the link to the watcher. Their reply is applied as soon as you copy it."
	case m.phase == connection.PhaseWaitingForAnswer:
		hint = "Send the link to the watcher, copy their reply link and press v."
	case m.phase == connection.PhaseAnswerCreated:
		hint = "Send the reply link back to the sharer and wait for them to paste it."
	case m.phase == connection.PhaseConnecting:
		hint = "Connecting..."
	case m.phase == connection.PhaseConnected:
		hint = "Connected."
	case m.phase == connection.PhaseError && m.mode == modeShare && m.url != "":
		hint = "Copy a valid reply link and press v to try again, or r to start over."
	case m.phase == connection.PhaseError, m.phase == connection.PhaseDisconnected:
		hint = "Press r to start over."
	default:
		hint = ""
	}
	return dimStyle.Render(hint)
}

func (m model) renderSession() string {
	var lines []string

	conn := string(m.connType)
	if conn == "" {
		conn = string(peer.ConnectionUnknown)
	}
	lines = append(lines,
		statusStyle.Render("Connection: ")+normalStyle.Render(conn)+"  "+
			statusStyle.Render("Duration: ")+normalStyle.Render(formatDuration(time.Since(m.connectedAt))))

	var chans []string
	for _, label := range []string{cursor.LabelPosition, cursor.LabelPing} {
		if m.channels[label] {
			chans = append(chans, selectedStyle.Render(label))
		} else {
			chans = append(chans, dimStyle.Render(label))
		}
	}
	lines = append(lines, statusStyle.Render("Channels: ")+strings.Join(chans, " "))

	for _, c := range m.cursors.Markers() {
		name := lipgloss.NewStyle().Foreground(lipgloss.Color(c.Color)).Render(c.Name)
		line := statusStyle.Render("Peer cursor: ") + name +
			dimStyle.Render(fmt.Sprintf(" at %.0f%%, %.0f%%", c.X*100, c.Y*100))
		if c.Pinged {
			line += "  " + viewerStyle.Render("ping!")
		}
		lines = append(lines, line)
	}

	info := boxStyle.Render(strings.Join(lines, "\n"))
	if !m.cursorsEnabled {
		return info
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, info, " ", m.renderCursorMap())
}

// Cursor map size, roughly a 16:9 screen in terminal cells
const (
	mapCols = 32
	mapRows = 9
)

// renderCursorMap draws the peer cursors on a scaled-down screen.
func (m model) renderCursorMap() string {
	grid := make([][]string, mapRows)
	for r := range grid {
		grid[r] = make([]string, mapCols)
		for c := range grid[r] {
			grid[r][c] = dimStyle.Render("·")
		}
	}
	for _, mk := range m.cursors.Markers() {
		col, row := mk.Cell(mapCols, mapRows)
		glyph := "▲"
		if mk.Pinged {
			glyph = "◉"
		}
		grid[row][col] = lipgloss.NewStyle().Foreground(lipgloss.Color(mk.Color)).Bold(true).Render(glyph)
	}

	rows := make([]string, mapRows)
	for r := range grid {
		rows[r] = strings.Join(grid[r], "")
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	mins := d / time.Minute
	d -= mins * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mins, s)
	}
	return fmt.Sprintf("%d:%02d", mins, s)
}

func (m model) renderHelp() string {
	var b strings.Builder
	sep := keySepStyle.Render("  ")

	// Line 1: Regular keybinds (actions)
	var actions []string

	if m.url != "" {
		actions = append(actions, keyStyle.Render("c")+helpStyle.Render(" copy link"))
	}
	if m.mode == modeShare && m.url != "" && m.phase != connection.PhaseConnected {
		actions = append(actions, keyStyle.Render("v")+helpStyle.Render(" paste reply"))
	}
	if m.phase == connection.PhaseConnected {
		actions = append(actions, keyStyle.Render("p")+helpStyle.Render(" ping"))
		actions = append(actions, keyStyle.Render("d")+helpStyle.Render(" disconnect"))
	}
	if m.phase == connection.PhaseDisconnected || m.phase == connection.PhaseError {
		actions = append(actions, keyStyle.Render("r")+helpStyle.Render(" restart"))
	}
	actions = append(actions, keyStyle.Render("q")+helpStyle.Render(" quit"))

	b.WriteString(strings.Join(actions, sep))

	// Line 2: Toggles with state indicators
	toggles := []string{
		m.renderToggle("m", "mic", m.micEnabled),
		m.renderToggle("x", "cursors", m.cursorsEnabled),
	}
	b.WriteString("\n\n")
	b.WriteString(strings.Join(toggles, "   "))

	return b.String()
}

// renderToggle renders a toggle keybind with active/inactive indicator
func (m model) renderToggle(key, label string, active bool) string {
	if active {
		return toggleActiveStyle.Render("● "+key) + " " + toggleActiveStyle.Render(label)
	}
	return toggleInactiveStyle.Render("○ "+key) + " " + toggleInactiveStyle.Render(label)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// RunTUI runs the session TUI until the user quits or ctx ends.
func RunTUI(ctx context.Context, app *App, m mode, link string) error {
	// Manager callbacks stop blocking on the program once it exits.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	md := newModel(ctx, app, m, link)
	md.starting = true

	p := tea.NewProgram(
		md,
		tea.WithAltScreen(),
		tea.WithMouseAllMotion(),
		tea.WithContext(ctx),
	)

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
