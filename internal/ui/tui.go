package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer draws live indexing progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexingModel
	tracker *ProgressTracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when the output is not a
// terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newIndexingModel(tracker, cfg.Root)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithoutSignalHandler()}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stats().Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.Total, event.CurrentFile)
	if r.program != nil {
		r.program.Send(refreshMsg{})
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(refreshMsg{})
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer. It waits briefly for the final frame.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()

	if program == nil {
		return nil
	}
	select {
	case <-r.done:
	case <-time.After(500 * time.Millisecond):
		program.Quit()
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

type refreshMsg struct{}
type completeMsg CompletionStats
type tickMsg time.Time

// indexingModel is the bubbletea model for a run.
type indexingModel struct {
	tracker     *ProgressTracker
	width       int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	root        string
}

func newIndexingModel(tracker *ProgressTracker, root string) *indexingModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	return &indexingModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: progress.New(progress.WithSolidFill(ColorAccent), progress.WithWidth(40), progress.WithoutPercentage()),
		styles:      DefaultStyles(),
		width:       80,
		root:        root,
	}
}

// Init implements tea.Model.
func (m *indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(msg.Width-24, 20)
	case refreshMsg:
		return m, nil
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *indexingModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	stats := m.tracker.Stats()
	lines := []string{m.renderStages(stats.Stage), m.renderProgress(stats)}
	if stats.CurrentFile != "" {
		lines = append(lines, m.styles.Dim.Render(truncatePath(stats.CurrentFile, max(m.width-6, 20))))
	}
	if stats.ErrorCount > 0 || stats.WarnCount > 0 {
		lines = append(lines, m.renderProblems(stats))
	}

	title := "fusearch"
	if m.root != "" {
		title += " • " + m.root
	}
	return m.styles.Header.Render(title) + "\n" +
		m.styles.Panel.Width(max(m.width-4, 40)).Render(strings.Join(lines, "\n")) + "\n"
}

func (m *indexingModel) renderStages(current Stage) string {
	stages := []Stage{StageDiscovering, StageExtracting, StageWriting}
	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		switch {
		case s < current:
			parts = append(parts, m.styles.Done.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *indexingModel) renderProgress(stats ProgressStats) string {
	if stats.Total == 0 {
		return fmt.Sprintf("%s %s files...", m.spinner.View(), strings.ToLower(stats.Stage.String()))
	}
	line := fmt.Sprintf("%s  %s", m.progressBar.ViewAs(stats.Progress),
		m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100)))
	detail := fmt.Sprintf("%d / %d files", stats.Current, stats.Total)
	if stats.Speed > 0 {
		detail += fmt.Sprintf("  •  %.0f/s", stats.Speed)
	}
	if stats.ETA > 0 {
		detail += "  •  ETA " + formatDuration(stats.ETA)
	}
	return line + "\n" + m.styles.Label.Render(detail)
}

func (m *indexingModel) renderProblems(stats ProgressStats) string {
	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	return strings.Join(parts, "  ")
}

func (m *indexingModel) renderComplete() string {
	s := m.stats
	lines := []string{
		m.styles.Success.Render("✓ Indexing complete"),
		"",
		fmt.Sprintf("%s %d of %d stale (%d files seen)", m.styles.Label.Render("Indexed:  "), s.Indexed, s.Stale, s.Discovered),
		fmt.Sprintf("%s %d", m.styles.Label.Render("Unchanged:"), s.Unchanged),
		fmt.Sprintf("%s %d", m.styles.Label.Render("Documents:"), s.Documents),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Duration: "), formatDuration(s.Duration)),
	}
	if s.ExtractionFailures > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d files could not be extracted", s.ExtractionFailures)))
	}
	if s.WriteFailures > 0 {
		lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d documents failed to write", s.WriteFailures)))
	}
	return m.styles.Panel.Width(max(m.width-4, 40)).Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration for humans.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncatePath shortens path from the left to fit maxLen runes.
func truncatePath(path string, maxLen int) string {
	runes := []rune(path)
	if len(runes) <= maxLen || maxLen < 4 {
		return path
	}
	return "..." + string(runes[len(runes)-maxLen+3:])
}

var _ Renderer = (*TUIRenderer)(nil)
