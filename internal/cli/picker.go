package cli

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kickdl/internal/model"
)

var (
	pickTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	pickMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	pickErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	pickSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
)

// pickerModel is a checklist over a collected listing.
type pickerModel struct {
	title    string
	items    []model.Item
	checked  []bool
	all      bool
	cursor   int
	width    int
	height   int
	status   string
	done     bool
	canceled bool
}

func newPicker(title string, items []model.Item) pickerModel {
	return pickerModel{
		title:   title,
		items:   items,
		checked: make([]bool, len(items)),
	}
}

func runPicker(title string, items []model.Item) ([]model.Item, error) {
	p := tea.NewProgram(newPicker(title, items), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return nil, errors.New("interactive selection requires a terminal (TTY); use --all, --pick or --top")
		}
		return nil, err
	}
	m, ok := final.(pickerModel)
	if !ok || m.canceled || !m.done {
		return nil, errSelectionCanceled
	}
	return m.selected(), nil
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m pickerModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		m.canceled = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = max(0, len(m.items)-1)
	case " ", "space", "x":
		if len(m.items) == 0 {
			return m, nil
		}
		m.all = false
		m.checked[m.cursor] = !m.checked[m.cursor]
		m.status = ""
	case "a":
		m.all = !m.all
		for i := range m.checked {
			m.checked[i] = m.all
		}
		m.status = ""
	case "enter":
		if m.count() == 0 {
			m.status = "select at least one item (space toggles, a selects all)"
			return m, nil
		}
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m pickerModel) count() int {
	n := 0
	for _, c := range m.checked {
		if c {
			n++
		}
	}
	return n
}

// selected keeps listing order.
func (m pickerModel) selected() []model.Item {
	out := make([]model.Item, 0, m.count())
	for i, c := range m.checked {
		if c {
			out = append(out, m.items[i])
		}
	}
	return out
}

func (m pickerModel) View() string {
	width := m.width
	if width <= 0 {
		width = 100
	}
	height := m.height
	if height <= 0 {
		height = 24
	}

	var b strings.Builder
	b.WriteString(pickTitleStyle.Render(m.title) + "\n")
	b.WriteString(pickMutedStyle.Render(fmt.Sprintf("%d items, %d selected", len(m.items), m.count())) + "\n\n")

	rows := max(3, height-6)
	start, end := listWindow(len(m.items), m.cursor, rows)
	for i := start; i < end; i++ {
		it := m.items[i]
		mark := "[ ]"
		if m.checked[i] {
			mark = "[x]"
		}
		line := fmt.Sprintf("%s %3d. %s  (%s, %d views)", mark, i+1, it.Title, formatDuration(it.DurationSec), it.Views)
		line = truncateRunes(line, width-2)
		if i == m.cursor {
			line = pickSelStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	if m.status != "" {
		b.WriteString("\n" + pickErrorStyle.Render(m.status) + "\n")
	}
	b.WriteString("\n" + pickMutedStyle.Render("space: toggle  a: all  enter: download  q: cancel"))
	return b.String()
}

func listWindow(total, cursor, maxRows int) (int, int) {
	if total <= maxRows {
		return 0, total
	}
	half := maxRows / 2
	start := cursor - half
	if start < 0 {
		start = 0
	}
	end := start + maxRows
	if end > total {
		end = total
		start = end - maxRows
	}
	return start, end
}

// concurrencyModel asks how many downloads each batch should run.
type concurrencyModel struct {
	presets  []int
	cursor   int
	done     bool
	canceled bool
}

func newConcurrencyPrompt(presets []int, def int) concurrencyModel {
	m := concurrencyModel{presets: presets}
	for i, n := range presets {
		if n == def {
			m.cursor = i
		}
	}
	return m
}

func runConcurrencyPrompt(presets []int, def int) (int, error) {
	p := tea.NewProgram(newConcurrencyPrompt(presets, def))
	final, err := p.Run()
	if err != nil {
		return 0, err
	}
	m, ok := final.(concurrencyModel)
	if !ok || m.canceled || !m.done {
		return 0, errSelectionCanceled
	}
	return m.value(), nil
}

func (m concurrencyModel) Init() tea.Cmd {
	return nil
}

func (m concurrencyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "q", "esc":
		m.canceled = true
		return m, tea.Quit
	case "up", "k", "left", "h":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j", "right", "l":
		if m.cursor < len(m.presets)-1 {
			m.cursor++
		}
	case "enter":
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m concurrencyModel) value() int {
	if len(m.presets) == 0 {
		return 0
	}
	return m.presets[m.cursor]
}

func (m concurrencyModel) View() string {
	if m.done || m.canceled {
		return ""
	}
	var b strings.Builder
	b.WriteString(pickTitleStyle.Render("Concurrent downloads per batch") + "\n")
	for i, n := range m.presets {
		line := fmt.Sprintf("  %d", n)
		if i == m.cursor {
			line = pickSelStyle.Render(fmt.Sprintf("> %d", n))
		}
		b.WriteString(line + "\n")
	}
	b.WriteString(pickMutedStyle.Render("enter: confirm  q: cancel") + "\n")
	return b.String()
}
