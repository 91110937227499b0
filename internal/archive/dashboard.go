package archive

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kickdl/internal/model"
)

var (
	dashTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	dashDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	dashSlotStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	dashFailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

type (
	slotMsg     SlotUpdate
	releaseMsg  int
	overallMsg  OverallUpdate
	batchMsg    BatchUpdate
	finishedMsg model.RunSummary
)

type slotView struct {
	active bool
	update SlotUpdate
}

// Dashboard is the live terminal view of a run.
type Dashboard struct {
	title       string
	slots       []slotView
	overall     OverallUpdate
	batch       BatchUpdate
	bar         progress.Model
	spin        spinner.Model
	summary     *model.RunSummary
	onInterrupt func()
}

func NewDashboard(title string, slots int, onInterrupt func()) Dashboard {
	if slots < 1 {
		slots = 1
	}
	return Dashboard{
		title:       title,
		slots:       make([]slotView, slots),
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithWidth(32), progress.WithoutPercentage()),
		spin:        spinner.New(spinner.WithSpinner(spinner.Dot)),
		onInterrupt: onInterrupt,
	}
}

func (d Dashboard) Init() tea.Cmd {
	return d.spin.Tick
}

func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if d.onInterrupt != nil {
				d.onInterrupt()
			}
			d.overall.Status = "Canceling..."
		}
		return d, nil
	case slotMsg:
		if msg.Slot >= 0 && msg.Slot < len(d.slots) {
			d.slots[msg.Slot] = slotView{active: true, update: SlotUpdate(msg)}
		}
		return d, nil
	case releaseMsg:
		if int(msg) >= 0 && int(msg) < len(d.slots) {
			d.slots[msg] = slotView{}
		}
		return d, nil
	case overallMsg:
		d.overall = OverallUpdate(msg)
		return d, nil
	case batchMsg:
		d.batch = BatchUpdate(msg)
		return d, nil
	case finishedMsg:
		s := model.RunSummary(msg)
		d.summary = &s
		return d, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spin, cmd = d.spin.Update(msg)
		return d, cmd
	}
	return d, nil
}

func (d Dashboard) View() string {
	var b strings.Builder
	header := d.spin.View() + " "
	if d.summary != nil {
		header = ""
	}
	b.WriteString(header + dashTitleStyle.Render(d.title) + "\n")

	b.WriteString(fmt.Sprintf("%s %d/%d  %s\n",
		d.bar.ViewAs(fraction(float64(d.overall.Completed), float64(d.overall.Total))),
		d.overall.Completed, d.overall.Total, d.overall.Status))

	if d.batch.Count > 0 {
		line := fmt.Sprintf("batch %d/%d  %d/%d done", d.batch.Index, d.batch.Count, d.batch.Completed, d.batch.Size)
		if d.batch.HasETA {
			if eta := formatETASeconds(d.batch.ETA.Seconds()); eta != "" {
				line += "  eta ~ " + eta
			} else {
				line += "  eta ~ 0m"
			}
		}
		b.WriteString(dashDimStyle.Render(line) + "\n")
	}

	b.WriteString(dashDimStyle.Render(strings.Repeat("-", 72)) + "\n")
	for i, s := range d.slots {
		if !s.active {
			b.WriteString(dashDimStyle.Render(fmt.Sprintf("#%d idle", i+1)) + "\n")
			continue
		}
		u := s.update
		b.WriteString(fmt.Sprintf("%s %s %s/%s %s\n",
			dashSlotStyle.Render(fmt.Sprintf("#%d", i+1)),
			d.bar.ViewAs(fraction(u.Position, u.Total)),
			formatClock(u.Position), formatClock(u.Total),
			u.Throughput))
		b.WriteString("   " + u.Label + "\n")
	}

	if d.summary != nil && d.summary.Failed > 0 {
		b.WriteString(dashFailStyle.Render(fmt.Sprintf("%d item(s) failed; details in %s", d.summary.Failed, d.summary.ManifestPath)) + "\n")
	}
	return b.String()
}

// Summary is set once the run has finished.
func (d Dashboard) Summary() (model.RunSummary, bool) {
	if d.summary == nil {
		return model.RunSummary{}, false
	}
	return *d.summary, true
}

// TeaReporter forwards progress to a running bubbletea program.
type TeaReporter struct {
	send func(tea.Msg)
}

func NewTeaReporter(p *tea.Program) *TeaReporter {
	return &TeaReporter{send: p.Send}
}

func (r *TeaReporter) UpdateSlot(u SlotUpdate)       { r.send(slotMsg(u)) }
func (r *TeaReporter) ReleaseSlot(slot int)          { r.send(releaseMsg(slot)) }
func (r *TeaReporter) UpdateOverall(u OverallUpdate) { r.send(overallMsg(u)) }
func (r *TeaReporter) UpdateBatch(u BatchUpdate)     { r.send(batchMsg(u)) }
func (r *TeaReporter) Finished(s model.RunSummary)   { r.send(finishedMsg(s)) }

func fraction(pos, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, pos/total))
}

func formatClock(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) {
		return "--:--"
	}
	secs := int64(seconds)
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func formatETASeconds(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	secs := int64(math.Round(seconds))
	if secs < 60 {
		return "<1m"
	}
	minutes := secs / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	remMinutes := minutes % 60
	if hours < 24 {
		if remMinutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh %dm", hours, remMinutes)
	}
	days := hours / 24
	remHours := hours % 24
	if remHours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd %dh", days, remHours)
}
