// Package tui renders pipeline progress in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/cosmic/internal/cosmo"
	"github.com/san-kum/cosmic/internal/pipeline"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

var spinner = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type status int

const (
	pending status = iota
	running
	done
	failed
)

type row struct {
	stage   pipeline.Stage
	status  status
	started time.Time
	elapsed time.Duration
	err     error
}

type stageMsg struct {
	stage    pipeline.Stage
	finished bool
	elapsed  time.Duration
	err      error
}

type resultMsg struct {
	graph *pipeline.Graph
	err   error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	rows     []row
	frame    int
	start    time.Time
	finished bool
	aborted  bool
	err      error
	tt       []float64
	width    int
}

func newModel() model {
	m := model{start: time.Now(), width: 80}
	for _, s := range pipeline.Stages() {
		m.rows = append(m.rows, row{stage: s})
	}
	return m
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.aborted = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		if m.finished {
			return m, nil
		}
		m.frame++
		return m, tick()
	case stageMsg:
		r := &m.rows[msg.stage]
		if !msg.finished {
			r.status, r.started, r.err = running, time.Now(), nil
			break
		}
		r.elapsed, r.err = msg.elapsed, msg.err
		if msg.err != nil {
			r.status = failed
		} else {
			r.status = done
		}
	case resultMsg:
		m.finished, m.err = true, msg.err
		if msg.graph != nil && msg.graph.Spectra() != nil {
			for _, p := range msg.graph.Spectra().TT() {
				m.tt = append(m.tt, p.Y)
			}
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString("   " + cyan.Render("c o s m i c") + "  " + dim.Render(fmt.Sprintf("%.1fs", time.Since(m.start).Seconds())) + "\n")
	b.WriteString(dimmer.Render("   "+strings.Repeat("─", 36)) + "\n")

	for _, r := range m.rows {
		name := fmt.Sprintf("%-16s", r.stage)
		switch r.status {
		case pending:
			b.WriteString("   " + dimmer.Render("·") + " " + dim.Render(name) + "\n")
		case running:
			glyph := spinner[m.frame%len(spinner)]
			b.WriteString("   " + yellow.Render(glyph) + " " + white.Render(name) +
				dim.Render(time.Since(r.started).Round(time.Millisecond).String()) + "\n")
		case done:
			b.WriteString("   " + green.Render("✓") + " " + white.Render(name) +
				dim.Render(r.elapsed.Round(time.Millisecond).String()) + "\n")
		case failed:
			b.WriteString("   " + red.Render("✗") + " " + white.Render(name) + red.Render(r.err.Error()) + "\n")
		}
	}

	if len(m.tt) > 0 {
		w := m.width - 12
		if w > 60 {
			w = 60
		}
		if w < 10 {
			w = 10
		}
		b.WriteString("\n   " + dim.Render("D_l ") + cyan.Render(sparkline(m.tt, w)) + "\n")
	}
	if !m.finished {
		b.WriteString("\n" + dim.Render("   q abort") + "\n")
	}
	return b.String()
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	step := len(data) / width
	if step < 1 {
		step = 1
	}
	var sb strings.Builder
	for i := 0; i < width && i*step < len(data); i++ {
		idx := int((data[i*step] - minVal) / rang * 7)
		sb.WriteRune(chars[max(0, min(7, idx))])
	}
	return sb.String()
}

// observer forwards pipeline events into the running program.
type observer struct {
	p *tea.Program
}

func (o observer) StageStarted(stage pipeline.Stage) {
	o.p.Send(stageMsg{stage: stage})
}

func (o observer) StageFinished(stage pipeline.Stage, elapsed time.Duration, err error) {
	o.p.Send(stageMsg{stage: stage, finished: true, elapsed: elapsed, err: err})
}

// BuildFunc builds a graph, reporting stage events to obs.
type BuildFunc func(ctx context.Context, obs pipeline.Observer) (*pipeline.Graph, error)

// Run shows stage progress while build runs. Quitting the view cancels the
// build and Run waits for it to return.
func Run(ctx context.Context, build BuildFunc) (*pipeline.Graph, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newModel())
	results := make(chan resultMsg, 1)
	go func() {
		g, err := build(ctx, observer{p: p})
		results <- resultMsg{graph: g, err: err}
		p.Send(resultMsg{graph: g, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		cancel()
		<-results
		return nil, err
	}
	if m, ok := final.(model); ok && m.aborted {
		cancel()
	}
	res := <-results
	return res.graph, res.err
}

// Spectrum renders a finished TT spectrum as a one-line sparkline.
func Spectrum(tt []cosmo.Point, width int) string {
	ys := make([]float64, len(tt))
	for i, p := range tt {
		ys[i] = p.Y
	}
	return sparkline(ys, width)
}
