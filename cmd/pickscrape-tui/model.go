package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"

	"github.com/adityalohuni/pickscrape/internal/adminclient"
	"github.com/adityalohuni/pickscrape/internal/config"
	"github.com/adityalohuni/pickscrape/internal/protocol"
	"github.com/adityalohuni/pickscrape/internal/session"
)

type panel int
type uiMode int

const (
	sessionsPanel panel = iota
	selectionPanel
)

const (
	dashboardMode uiMode = iota
	promptMode
	settingsMode
)

type model struct {
	client   *adminclient.Client
	capturer *adminclient.Client
	refresh  time.Duration

	settings config.Settings
	form     []string

	stats    session.Stats
	sessions []session.Info
	peeked   []protocol.SelectedElement
	peekedID string
	running  int

	mode           uiMode
	focus          panel
	cursor         int
	settingsCursor int
	editingSetting bool

	editor textinput.Model
	prompt textinput.Model

	spin spinner.Model

	sessionVP   viewport.Model
	selectionVP viewport.Model

	chartLive streamlinechart.Model
	chartDone streamlinechart.Model
	lastDone  int64

	spring   harmonica.Spring
	animLive float64
	velLive  float64
	animDone float64
	velDone  float64

	status      string
	summary     string
	lastUpdated time.Time
	width       int
	height      int
}

func newClients(s config.Settings) (*adminclient.Client, *adminclient.Client) {
	poll := adminclient.New(s.AdminBaseURL, s.AdminToken, &http.Client{Timeout: 4 * time.Second})
	// a capture lasts as long as the user takes to pick
	capturer := adminclient.New(s.AdminBaseURL, s.AdminToken, &http.Client{}).WithAPIToken(s.APIToken)
	return poll, capturer
}

func newModel(cfg config.Settings) model {
	ed := textinput.New()
	ed.Prompt = "value> "
	ed.CharLimit = 512
	ed.Width = 64

	pr := textinput.New()
	pr.Prompt = "url> "
	pr.Placeholder = "https://example.com"
	pr.CharLimit = 2048
	pr.Width = 64

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	live := streamlinechart.New(
		34,
		8,
		streamlinechart.WithYRange(0, 8),
		streamlinechart.WithStyles(runes.ArcLineStyle, lipgloss.NewStyle().Foreground(lipgloss.Color("10"))),
	)
	done := streamlinechart.New(
		34,
		8,
		streamlinechart.WithYRange(0, 8),
		streamlinechart.WithStyles(runes.ArcLineStyle, lipgloss.NewStyle().Foreground(lipgloss.Color("14"))),
	)

	poll, capturer := newClients(cfg)
	refresh := cfg.TUIRefreshInterval
	if refresh <= 0 {
		refresh = 2 * time.Second
	}
	return model{
		client:      poll,
		capturer:    capturer,
		refresh:     refresh,
		settings:    cfg,
		form:        formFromSettings(cfg),
		mode:        dashboardMode,
		focus:       sessionsPanel,
		status:      "connecting to " + cfg.AdminBaseURL,
		spin:        sp,
		editor:      ed,
		prompt:      pr,
		sessionVP:   viewport.New(40, 20),
		selectionVP: viewport.New(40, 20),
		chartLive:   live,
		chartDone:   done,
		lastDone:    -1,
		spring:      harmonica.NewSpring(harmonica.FPS(60), 12.0, 1.0),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchCmd(m.client), tickCmd(m.refresh), m.spin.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.syncLayout()
		m.syncViewportContent()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case loadResultMsg:
		return m.applyLoad(msg)

	case peekResultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("peek %s failed: %v", msg.id, msg.err)
			return m, nil
		}
		m.peekedID = msg.id
		m.peeked = msg.elements
		m.syncViewportContent()
		return m, nil

	case cancelResultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("cancel %s failed: %v", msg.id, msg.err)
			return m, nil
		}
		m.status = "cancelled session " + msg.id
		return m, fetchCmd(m.client)

	case captureResultMsg:
		m.running--
		switch {
		case msg.err != nil:
			m.status = fmt.Sprintf("capture %s failed: %v", msg.url, msg.err)
		case msg.res.Message != "":
			m.status = fmt.Sprintf("capture %s: %s", msg.url, msg.res.Message)
		default:
			m.status = fmt.Sprintf("capture %s: %d elements", msg.url, len(msg.res.SelectedElements))
			if msg.res.CSVPath != "" {
				m.status += " -> " + msg.res.CSVPath
			}
		}
		return m, fetchCmd(m.client)

	case configReloadedMsg:
		return m.applyConfig(msg.settings, msg.err, "settings reloaded")

	case configSavedMsg:
		return m.applyConfig(msg.settings, msg.err, "settings saved")

	case tickMsg:
		m.animLive, m.velLive = m.spring.Update(m.animLive, m.velLive, float64(m.stats.Live))
		m.animDone, m.velDone = m.spring.Update(m.animDone, m.velDone, float64(m.stats.Delivered))
		cmds := []tea.Cmd{fetchCmd(m.client), tickCmd(m.refresh)}
		if id := m.selectedID(); id != "" {
			cmds = append(cmds, peekCmd(m.client, id))
		}
		return m, tea.Batch(cmds...)

	case tea.MouseMsg:
		if m.mode == dashboardMode && msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft {
			for i, s := range m.sessions {
				if z := zone.Get("session-" + s.ID); z != nil && z.InBounds(msg) {
					m.focus = sessionsPanel
					m.cursor = i
					m.syncViewportContent()
					return m, peekCmd(m.client, s.ID)
				}
			}
		}

	case tea.KeyMsg:
		switch m.mode {
		case settingsMode:
			return updateSettingsMode(m, msg)
		case promptMode:
			return updatePromptMode(m, msg)
		}
		return updateDashboardMode(m, msg)
	}

	return m, nil
}

func (m model) applyLoad(msg loadResultMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.status = "refresh failed: " + msg.err.Error()
		return m, nil
	}
	m.stats = msg.status.Sessions
	m.sessions = msg.sessions
	if m.cursor >= len(m.sessions) {
		m.cursor = max(0, len(m.sessions)-1)
	}
	if m.selectedID() != m.peekedID {
		m.peeked = nil
		m.peekedID = ""
	}
	m.lastUpdated = msg.at

	finished := m.stats.Delivered + m.stats.Cancelled + m.stats.Failed
	if m.lastDone >= 0 {
		m.chartDone.Push(float64(finished - m.lastDone))
	}
	m.lastDone = finished
	m.chartLive.Push(float64(m.stats.Live))
	m.chartLive.Draw()
	m.chartDone.Draw()
	m.syncViewportContent()

	mode := "headless"
	if msg.status.Interactive {
		mode = "interactive"
	}
	m.summary = fmt.Sprintf("%s daemon, up %s", mode, msg.status.Uptime)
	return m, nil
}

func (m model) applyConfig(s config.Settings, err error, done string) (tea.Model, tea.Cmd) {
	if err != nil {
		m.status = done + " failed: " + err.Error()
		return m, nil
	}
	m.settings = s
	m.form = formFromSettings(s)
	if s.TUIRefreshInterval > 0 {
		m.refresh = s.TUIRefreshInterval
	}
	m.client, m.capturer = newClients(s)
	m.status = done
	return m, fetchCmd(m.client)
}

func updateDashboardMode(m model, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "c":
		m.mode = settingsMode
		m.editingSetting = false
		m.editor.Blur()
		m.status = "settings mode"
		return m, nil
	case "n":
		m.mode = promptMode
		m.prompt.SetValue("")
		m.status = "url to capture, enter to open, esc to go back"
		return m, m.prompt.Focus()
	case "tab":
		if m.focus == sessionsPanel {
			m.focus = selectionPanel
		} else {
			m.focus = sessionsPanel
		}
		return m, nil
	case "r":
		return m, fetchCmd(m.client)
	case "up", "k":
		if m.focus == sessionsPanel && m.cursor > 0 {
			m.cursor--
			m.syncViewportContent()
			return m, peekCmd(m.client, m.selectedID())
		}
		if m.focus == selectionPanel {
			m.selectionVP.LineUp(1)
		}
		return m, nil
	case "down", "j":
		if m.focus == sessionsPanel && m.cursor < len(m.sessions)-1 {
			m.cursor++
			m.syncViewportContent()
			return m, peekCmd(m.client, m.selectedID())
		}
		if m.focus == selectionPanel {
			m.selectionVP.LineDown(1)
		}
		return m, nil
	case "pgup":
		if m.focus == sessionsPanel {
			m.sessionVP.HalfViewUp()
		} else {
			m.selectionVP.HalfViewUp()
		}
		return m, nil
	case "pgdown":
		if m.focus == sessionsPanel {
			m.sessionVP.HalfViewDown()
		} else {
			m.selectionVP.HalfViewDown()
		}
		return m, nil
	case "x":
		if id := m.selectedID(); id != "" {
			return m, cancelCmd(m.client, id)
		}
		return m, nil
	}
	return m, nil
}

func updatePromptMode(m model, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.mode = dashboardMode
		m.prompt.Blur()
		m.status = "capture not started"
		return m, nil
	case "enter":
		url := strings.TrimSpace(m.prompt.Value())
		if url == "" {
			m.status = "url is required"
			return m, nil
		}
		m.mode = dashboardMode
		m.prompt.Blur()
		m.running++
		m.status = "capturing " + url + " (pick in the browser, Enter to finish)"
		return m, captureCmd(m.capturer, url)
	}
	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

func updateSettingsMode(m model, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editingSetting {
		switch msg.String() {
		case "enter":
			m.form[m.settingsCursor] = m.editor.Value()
			m.editingSetting = false
			m.editor.Blur()
			m.status = "value updated (press s to save config)"
			return m, nil
		case "esc":
			m.editingSetting = false
			m.editor.Blur()
			m.status = "edit canceled"
			return m, nil
		}
		var cmd tea.Cmd
		m.editor, cmd = m.editor.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "esc", "c":
		m.mode = dashboardMode
		m.status = "dashboard mode"
		return m, nil
	case "up", "k":
		if m.settingsCursor > 0 {
			m.settingsCursor--
		}
		return m, nil
	case "down", "j":
		if m.settingsCursor < len(settingFields)-1 {
			m.settingsCursor++
		}
		return m, nil
	case "r":
		return m, reloadConfigCmd(m.settings.Path)
	case "s":
		return m, saveConfigCmd(m.settings, m.form)
	case "e", "enter":
		m.editingSetting = true
		m.editor.SetValue(m.form[m.settingsCursor])
		m.editor.CursorEnd()
		m.status = "editing " + settingFields[m.settingsCursor].name
		return m, m.editor.Focus()
	}
	return m, nil
}

func (m model) selectedID() string {
	if m.cursor < 0 || m.cursor >= len(m.sessions) {
		return ""
	}
	return m.sessions[m.cursor].ID
}

func (m *model) syncLayout() {
	paneH := max(10, m.height-20)
	paneW := max(40, m.width/2-2)
	m.sessionVP.Width = paneW - 2
	m.sessionVP.Height = paneH
	m.selectionVP.Width = paneW - 2
	m.selectionVP.Height = paneH
}

func (m *model) syncViewportContent() {
	m.sessionVP.SetContent(m.renderSessionRows())
	m.selectionVP.SetContent(m.renderSelectionRows())
	m.sessionVP.SetYOffset(m.cursor * 2)
}
