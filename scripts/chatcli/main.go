package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/client"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

// Terminal chat for one negotiation thread, driving the same client
// controller a web or mobile view would.

type config struct {
	server   string
	party    string
	role     string
	threadID string
	guideID  string
	budget   int64
	currency string
}

type theme struct {
	header  lipgloss.Style
	mine    lipgloss.Style
	theirs  lipgloss.Style
	system  lipgloss.Style
	offer   lipgloss.Style
	muted   lipgloss.Style
	failed  lipgloss.Style
	status  lipgloss.Style
	errLine lipgloss.Style
	input   lipgloss.Style
}

func newTheme() theme {
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	muted := lipgloss.Color("#9ca3d8")
	return theme{
		header:  lipgloss.NewStyle().Bold(true).Foreground(blue).Padding(0, 1),
		mine:    lipgloss.NewStyle().Foreground(mint),
		theirs:  lipgloss.NewStyle().Foreground(blue),
		system:  lipgloss.NewStyle().Foreground(muted).Italic(true),
		offer:   lipgloss.NewStyle().Foreground(pink).Bold(true),
		muted:   lipgloss.NewStyle().Foreground(muted),
		failed:  lipgloss.NewStyle().Foreground(pink),
		status:  lipgloss.NewStyle().Foreground(blue).Bold(true),
		errLine: lipgloss.NewStyle().Foreground(pink).Bold(true),
		input:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1),
	}
}

type viewMsg client.View

type actionDoneMsg struct {
	status string
	err    error
}

type chatModel struct {
	session *client.Session
	ctl     *client.Controller
	self    model.Sender
	inbound chan tea.Msg

	view       client.View
	statusLine string
	errLine    string

	width    int
	height   int
	input    textinput.Model
	timeline viewport.Model
	theme    theme
}

func newModel(session *client.Session, ctl *client.Controller, self model.Sender) chatModel {
	in := textinput.New()
	in.Placeholder = "message, or /help"
	in.Focus()
	in.CharLimit = model.MaxContentLength

	m := chatModel{
		session:  session,
		ctl:      ctl,
		self:     self,
		inbound:  make(chan tea.Msg, 64),
		input:    in,
		timeline: viewport.New(80, 20),
		theme:    newTheme(),
		view:     ctl.View(),
	}
	ctl.OnChange(func(v client.View) {
		select {
		case m.inbound <- viewMsg(v):
		default:
			// the next change carries the full view anyway
		}
	})
	return m
}

func waitMsg(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitMsg(m.inbound))
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.timeline.Width = msg.Width
		m.timeline.Height = max(msg.Height-6, 3)
		m.input.Width = max(msg.Width-6, 10)
		m.render()
	case viewMsg:
		m.view = client.View(msg)
		m.render()
		cmds = append(cmds, waitMsg(m.inbound))
	case actionDoneMsg:
		m.statusLine, m.errLine = msg.status, ""
		if msg.err != nil {
			m.statusLine, m.errLine = "", msg.err.Error()
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			line := m.input.Value()
			m.input.Reset()
			m.ctl.InputChanged("")
			if cmd := m.submit(line); cmd != nil {
				cmds = append(cmds, cmd)
			}
			return m, tea.Batch(cmds...)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.ctl.InputChanged(m.input.Value())
		cmds = append(cmds, cmd)
	default:
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m chatModel) action(status string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		err := fn(context.Background())
		return actionDoneMsg{status: status, err: err}
	}
}

func parseAmount(arg, currency string) (model.Money, error) {
	v, err := strconv.ParseInt(strings.ReplaceAll(arg, ",", ""), 10, 64)
	if err != nil {
		return model.Money{}, fmt.Errorf("bad amount %q", arg)
	}
	return model.NewMoney(v, currency)
}

func (m *chatModel) submit(line string) tea.Cmd {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return m.action("sent", func(ctx context.Context) error {
			_, err := m.ctl.Send(ctx, line)
			return err
		})
	}

	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	currency := ""
	if m.view.Thread != nil {
		currency = m.view.Thread.Currency()
	}
	threadID := m.ctl.ThreadID()

	switch cmd {
	case "quit":
		return tea.Quit
	case "help":
		m.statusLine = "/offer N  /floor N  /agree  /revoke  /edit ID text  /delete ID  /retry  /cancel [why]  /reject [why]  /checkout  /suggest  /quit"
		return nil
	case "offer", "floor":
		amount, err := parseAmount(arg, currency)
		if err != nil {
			m.errLine = err.Error()
			return nil
		}
		if cmd == "offer" {
			return m.action("offer sent", func(ctx context.Context) error {
				_, err := m.ctl.ProposeOffer(ctx, amount)
				return err
			})
		}
		return m.action("minimum price set", func(ctx context.Context) error {
			_, err := m.ctl.SetMinPrice(ctx, amount)
			return err
		})
	case "agree":
		return m.action("agreed", func(ctx context.Context) error {
			_, err := m.ctl.Agree(ctx)
			return err
		})
	case "revoke":
		return m.action("agreement revoked", func(ctx context.Context) error {
			_, err := m.ctl.RevokeAgreement(ctx)
			return err
		})
	case "edit":
		id, text, _ := strings.Cut(arg, " ")
		return m.action("edited", func(ctx context.Context) error {
			_, err := m.ctl.Edit(ctx, id, text)
			return err
		})
	case "delete":
		return m.action("deleted", func(ctx context.Context) error {
			_, err := m.ctl.Delete(ctx, arg)
			return err
		})
	case "retry":
		for _, vm := range m.view.Messages {
			if vm.State == client.StateFailed {
				local := vm.LocalID
				return m.action("resent", func(ctx context.Context) error {
					_, err := m.ctl.Retry(ctx, local)
					return err
				})
			}
		}
		m.statusLine = "nothing to retry"
		return nil
	case "cancel":
		return m.action("request cancelled", func(ctx context.Context) error {
			_, err := m.session.API.Cancel(ctx, threadID, arg)
			return err
		})
	case "reject":
		return m.action("request rejected", func(ctx context.Context) error {
			_, err := m.session.API.Reject(ctx, threadID, arg)
			return err
		})
	case "checkout":
		return func() tea.Msg {
			co, err := m.session.API.Checkout(context.Background(), threadID)
			if err != nil {
				return actionDoneMsg{err: err}
			}
			if !co.Ready {
				return actionDoneMsg{status: "not ready to pay yet"}
			}
			return actionDoneMsg{status: "ready to pay " + co.FinalPrice.String()}
		}
	case "suggest":
		return func() tea.Msg {
			s, err := m.session.API.Suggest(context.Background(), threadID)
			if err != nil {
				return actionDoneMsg{err: err}
			}
			status := fmt.Sprintf("%s: %s", strings.ToLower(s.Decision), s.Reply)
			if s.CounterPrice != nil {
				status += " (counter " + s.CounterPrice.String() + ")"
			}
			return actionDoneMsg{status: status}
		}
	}
	m.errLine = "unknown command /" + cmd
	return nil
}

func (m *chatModel) render() {
	var b strings.Builder
	for _, vm := range m.view.Messages {
		b.WriteString(m.renderMessage(vm))
		b.WriteByte('\n')
	}
	m.timeline.SetContent(b.String())
	m.timeline.GotoBottom()
}

func (m *chatModel) renderMessage(vm client.ViewMessage) string {
	t := m.theme
	stamp := t.muted.Render(vm.CreatedAt.Local().Format("15:04"))
	if vm.Kind == model.KindSystem {
		return stamp + " " + t.system.Render(vm.Content)
	}
	who := string(vm.Sender.Role)
	style := t.theirs
	if vm.Sender == m.self {
		who, style = "you", t.mine
	}

	body := vm.Content
	switch {
	case vm.Deleted:
		body = t.muted.Render("message deleted")
	case vm.Kind == model.KindOffer && vm.Offer != nil:
		body = t.offer.Render("offer " + vm.Offer.String())
	}
	if vm.EditedAt != nil && !vm.Deleted {
		body += t.muted.Render(" (edited)")
	}

	suffix := ""
	switch vm.State {
	case client.StateSending:
		suffix = t.muted.Render(" sending...")
	case client.StateFailed:
		suffix = t.failed.Render(" failed, /retry")
	}
	id := ""
	if vm.ID != "" && vm.Sender == m.self {
		id = t.muted.Render(" [" + vm.ID + "]")
	}
	return fmt.Sprintf("%s %s: %s%s%s", stamp, style.Render(who), body, suffix, id)
}

func (m chatModel) header() string {
	v := m.view
	if v.Thread == nil {
		return m.theme.header.Render("loading thread...")
	}
	th := v.Thread
	parts := []string{
		"thread " + th.ID,
		string(th.Status),
		"price " + th.CurrentPrice().String(),
	}
	if th.MinPrice != nil {
		parts = append(parts, "floor "+th.MinPrice.String())
	}
	if th.Agreement.Any() {
		parts = append(parts, fmt.Sprintf("agreed t:%v g:%v", th.Agreement.TravelerAgreed, th.Agreement.GuideAgreed))
	}
	if th.FinalPrice != nil {
		parts = append(parts, "final "+th.FinalPrice.String())
	}
	channel := string(v.Channel)
	if v.Polling {
		channel += ", polling"
	}
	if v.Degraded {
		channel += ", offline"
	}
	parts = append(parts, channel)
	return m.theme.header.Render(strings.Join(parts, " · "))
}

func (m chatModel) View() string {
	footer := m.theme.status.Render(m.statusLine)
	if m.errLine != "" {
		footer = m.theme.errLine.Render(m.errLine)
	}
	typing := ""
	if len(m.view.Typing) > 0 {
		typing = m.theme.muted.Render(string(m.view.Typing[0].Sender.Role) + " is typing...")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		m.timeline.View(),
		typing,
		m.theme.input.Render(m.input.View()),
		footer,
	)
}

func main() {
	var cfg config
	flag.StringVar(&cfg.server, "server", "http://localhost:8080", "service base url")
	flag.StringVar(&cfg.party, "party", "", "your party id")
	flag.StringVar(&cfg.role, "role", "traveler", "traveler or guide")
	flag.StringVar(&cfg.threadID, "thread", "", "thread to open")
	flag.StringVar(&cfg.guideID, "guide", "", "guide id, to start a new thread as traveler")
	flag.Int64Var(&cfg.budget, "budget", 0, "initial budget for a new thread")
	flag.StringVar(&cfg.currency, "currency", "VND", "currency for a new thread")
	flag.Parse()

	role, err := model.ParseRole(cfg.role)
	if err != nil || cfg.party == "" {
		fmt.Fprintln(os.Stderr, "usage: chatcli -party ID -role traveler|guide (-thread ID | -guide ID -budget N)")
		os.Exit(2)
	}
	self := model.Sender{PartyID: cfg.party, Role: role}

	logFile, err := os.CreateTemp("", "chatcli-*.log")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := zerolog.New(logFile).With().Timestamp().Logger()

	ctx := context.Background()
	session := client.NewSession(client.SessionConfig{BaseURL: cfg.server, Party: self, Logger: logger})
	session.Start(ctx)
	defer session.Close()

	threadID := cfg.threadID
	if threadID == "" {
		budget, err := model.NewMoney(cfg.budget, cfg.currency)
		if err != nil || cfg.guideID == "" || role != model.RoleTraveler {
			fmt.Fprintln(os.Stderr, "to start a thread pass -role traveler -guide ID -budget N")
			os.Exit(2)
		}
		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		th, err := session.API.CreateThread(reqCtx, client.CreateThreadInput{
			TravelerID:    self.PartyID,
			GuideID:       cfg.guideID,
			InitialBudget: budget,
		})
		cancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, "create thread:", err)
			os.Exit(1)
		}
		threadID = th.ID
	}

	ctl := session.Open(ctx, threadID)
	ctl.SetVisible(true)

	p := tea.NewProgram(newModel(session, ctl, self), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
