package viz

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"

	"substep/internal/diffusion"
	"substep/internal/driver"
)

const (
	graphWidth  = 70
	graphHeight = 12
)

// StepMsg carries one completed step from the sampling goroutine.
type StepMsg driver.StepRecord

// DoneMsg signals the end of the run.
type DoneMsg struct {
	Result *driver.RunResult
	Err    error
}

// Model is the live run view: the sampling loop runs in a goroutine and
// streams step records in, the view plots the norm trajectory as it
// settles.
type Model struct {
	sampler string
	msgs    <-chan tea.Msg

	steps []driver.StepRecord
	norms []float64
	done  bool
	err   error
}

func NewModel(sampler string, msgs <-chan tea.Msg) Model {
	return Model{sampler: sampler, msgs: msgs}
}

func waitForMsg(msgs <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-msgs }
}

func (m Model) Init() tea.Cmd {
	return waitForMsg(m.msgs)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case StepMsg:
		m.steps = append(m.steps, driver.StepRecord(msg))
		m.norms = append(m.norms, msg.Norm)
		return m, waitForMsg(m.msgs)
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("substep live: %s", m.sampler)))
	b.WriteString("\n")

	if len(m.norms) >= 2 {
		b.WriteString(graphStyle.Render(asciigraph.Plot(m.norms,
			asciigraph.Width(graphWidth),
			asciigraph.Height(graphHeight),
			asciigraph.Caption("sample norm"),
		)))
		b.WriteString("\n")
	}

	var stats strings.Builder
	if len(m.steps) > 0 {
		last := m.steps[len(m.steps)-1]
		stats.WriteString(labelStyle.Render("step") + valueStyle.Render(fmt.Sprintf("%d", last.Idx)) + "\n")
		stats.WriteString(labelStyle.Render("sigma") + valueStyle.Render(fmt.Sprintf("%.4f", last.Sigma)) + "\n")
		stats.WriteString(labelStyle.Render("sigma next") + valueStyle.Render(fmt.Sprintf("%.4f", last.SigmaNext)) + "\n")
		stats.WriteString(labelStyle.Render("norm") + valueStyle.Render(fmt.Sprintf("%.4f", last.Norm)) + "\n")
		stats.WriteString(labelStyle.Render("denoised") + valueStyle.Render(fmt.Sprintf("%.4f", last.DenoisedNorm)))
	} else {
		stats.WriteString(labelStyle.Render("waiting for first step"))
	}
	b.WriteString(statsStyle.Render(stats.String()))
	b.WriteString("\n")

	if m.done {
		if m.err != nil {
			b.WriteString(errStyle.Render("failed: " + m.err.Error()))
		} else {
			b.WriteString(doneStyle.Render("run complete"))
		}
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("q: quit"))
	return b.String()
}

// RunLive executes the driver while showing the live view, returning the
// run result once both finish.
func RunLive(ctx context.Context, d *driver.Driver, samplerName string, x0 diffusion.Tensor) (*driver.RunResult, error) {
	msgs := make(chan tea.Msg, 64)
	d.Observe(func(rec driver.StepRecord, _ diffusion.Tensor) {
		msgs <- StepMsg(rec)
	})

	var res *driver.RunResult
	var runErr error
	go func() {
		res, runErr = d.Run(ctx, x0)
		msgs <- DoneMsg{Result: res, Err: runErr}
	}()

	p := tea.NewProgram(NewModel(samplerName, msgs))
	if _, err := p.Run(); err != nil {
		return nil, err
	}
	return res, runErr
}
