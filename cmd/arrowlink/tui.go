package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/OCAP2/arrowlink/internal/events"
	"github.com/OCAP2/arrowlink/internal/registry"
	"github.com/OCAP2/arrowlink/pkg/core"
)

const refreshEvery = 500 * time.Millisecond

type eventMsg struct{ core.Event }

type refreshMsg time.Time

// dashboard renders the registry and forwards key presses to the session.
type dashboard struct {
	reg     *registry.Registry
	measure func() error

	snap   registry.Snapshot
	notice string
	lost   *core.PeerDisconnected
}

func newDashboard(reg *registry.Registry, measure func() error) dashboard {
	return dashboard{reg: reg, measure: measure, snap: reg.Snapshot()}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (d dashboard) Init() tea.Cmd {
	return refresh()
}

func (d dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return d, tea.Quit
		case "m":
			if err := d.measure(); err != nil {
				d.notice = "cannot measure: " + err.Error()
			} else {
				d.notice = "ping sent"
			}
		}

	case refreshMsg:
		d.snap = d.reg.Snapshot()
		return d, refresh()

	case eventMsg:
		d.snap = d.reg.Snapshot()
		switch ev := msg.Event.(type) {
		case core.LatencyMeasured:
			d.notice = fmt.Sprintf("round trip %d ms", ev.Millis)
		case core.PeerDisconnected:
			d.lost = &ev
			return d, tea.Quit
		}
	}
	return d, nil
}

func (d dashboard) View() string {
	var b strings.Builder
	s := d.snap

	fmt.Fprintf(&b, "arrowlink  %s  %s", s.Role, s.State)
	if s.Remote != "" {
		fmt.Fprintf(&b, "  %s", s.Remote)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "  own    %s\n", s.OwnPose)
	fmt.Fprintf(&b, "  peer   %s\n", s.PeerPose)
	if s.Heading != nil {
		fmt.Fprintf(&b, "  arrow  %s %.1f°\n", arrow(*s.Heading), *s.Heading)
	} else {
		b.WriteString("  arrow  waiting for both markers\n")
	}
	if s.LatencyMillis != nil {
		fmt.Fprintf(&b, "  rtt    %d ms\n", *s.LatencyMillis)
	} else {
		b.WriteString("  rtt    not measured\n")
	}
	if s.Sampler != nil {
		fmt.Fprintf(&b, "  frames %d sampled, %d skipped, %d without marker\n",
			s.Sampler.Cycles, s.Sampler.Skipped, s.Sampler.NotFound)
	}

	if d.notice != "" {
		fmt.Fprintf(&b, "\n  %s\n", d.notice)
	}
	if d.lost != nil {
		fmt.Fprintf(&b, "\n  peer lost: %s\n", d.lost.Reason)
	}
	b.WriteString("\n  [m] measure latency  [q] quit\n")
	return b.String()
}

// arrow picks the glyph closest to deg, measured clockwise from up.
func arrow(deg float64) string {
	glyphs := []string{"↑", "↗", "→", "↘", "↓", "↙", "←", "↖"}
	i := int(core.NormalizeDegrees(deg+22.5) / 45)
	return glyphs[i%len(glyphs)]
}

// runDashboard drives the dashboard until the user quits, the peer is lost
// or ctx ends. Events reach it through the mailbox so the session never
// waits on rendering.
func runDashboard(ctx context.Context, reg *registry.Registry, measure func() error, mb *events.Mailbox, out io.Writer) error {
	p := tea.NewProgram(newDashboard(reg, measure),
		tea.WithContext(ctx),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)

	go func() {
		_ = mb.Pump(ctx, func(e core.Event) {
			p.Send(eventMsg{e})
		})
	}()

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard: %w", err)
	}
	if d, ok := final.(dashboard); ok && d.lost != nil {
		return fmt.Errorf("%w: %s", errPeerLost, d.lost.Reason)
	}
	return nil
}
