// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/atlaspack-go/core/internal/idealgraph"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	phaseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Width(9)
	kindStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Width(24)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// decisionMsg delivers one Decision from the build goroutine.
type decisionMsg idealgraph.Decision

// streamClosedMsg signals the decision channel was closed.
type streamClosedMsg struct{}

// buildDoneMsg signals the build finished.
type buildDoneMsg struct {
	err         error
	bundleCount int
}

// model is the bubbletea model: a scrolling viewport over the decision
// stream with an optional per-kind filter.
type model struct {
	decisions <-chan idealgraph.Decision
	done      <-chan buildDoneMsg

	entries []idealgraph.Decision
	filter  idealgraph.DecisionKind
	// filterOn distinguishes "no filter" from filtering on kind zero.
	filterOn bool

	viewport viewport.Model
	ready    bool
	follow   bool

	buildDone   bool
	buildErr    error
	bundleCount int
}

func newModel(decisions <-chan idealgraph.Decision, done <-chan buildDoneMsg) model {
	return model{decisions: decisions, done: done, follow: true}
}

// listenDecisions waits for the next Decision (or channel close).
func (m model) listenDecisions() tea.Cmd {
	return func() tea.Msg {
		d, ok := <-m.decisions
		if !ok {
			return streamClosedMsg{}
		}
		return decisionMsg(d)
	}
}

// listenDone waits for the build to finish.
func (m model) listenDone() tea.Cmd {
	return func() tea.Msg {
		return <-m.done
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.listenDecisions(), m.listenDone())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 2
		footerHeight := 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.refreshContent()

	case decisionMsg:
		m.entries = append(m.entries, idealgraph.Decision(msg))
		m.refreshContent()
		return m, m.listenDecisions()

	case streamClosedMsg:
		// Keep the view open for inspection; the footer already shows
		// the build outcome when it lands.
		return m, nil

	case buildDoneMsg:
		m.buildDone = true
		m.buildErr = msg.err
		m.bundleCount = msg.bundleCount
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "j", "down":
			m.follow = false
			m.viewport.LineDown(1)
		case "k", "up":
			m.follow = false
			m.viewport.LineUp(1)
		case "g", "home":
			m.follow = false
			m.viewport.GotoTop()
		case "G", "end":
			m.follow = true
			m.viewport.GotoBottom()
		case "f":
			m.cycleFilter()
			m.refreshContent()
		}
		// Keys are fully handled above; letting them also reach the
		// viewport's own keymap would double-scroll j/k.
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// cycleFilter steps through: no filter, then each DecisionKind in order.
func (m *model) cycleFilter() {
	if !m.filterOn {
		m.filterOn = true
		m.filter = idealgraph.DecisionBoundaryFound
		return
	}
	if m.filter == idealgraph.DecisionBundleInternalized {
		m.filterOn = false
		return
	}
	m.filter++
}

func (m *model) refreshContent() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, d := range m.entries {
		if m.filterOn && d.Kind != m.filter {
			continue
		}
		b.WriteString(phaseStyle.Render(fmt.Sprintf("phase %d", d.Phase)))
		b.WriteString(" ")
		b.WriteString(kindStyle.Render(d.Kind.String()))
		b.WriteString(" ")
		b.WriteString(d.Detail)
		if d.Bundle != "" {
			b.WriteString(dimStyle.Render("  " + string(d.Bundle)))
		}
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m model) View() string {
	if !m.ready {
		return "starting...\n"
	}

	header := headerStyle.Render("atlaspack decision log")
	if m.filterOn {
		header += dimStyle.Render("  [filter: " + m.filter.String() + "]")
	}

	status := dimStyle.Render("building...")
	if m.buildDone {
		if m.buildErr != nil {
			status = errStyle.Render("build failed: " + m.buildErr.Error())
		} else {
			status = okStyle.Render(fmt.Sprintf("build complete: %d bundles", m.bundleCount))
		}
	}
	footer := fmt.Sprintf("%s  %s",
		status,
		dimStyle.Render(fmt.Sprintf("%d decisions · j/k scroll · f filter · q quit", len(m.entries))))

	return header + "\n\n" + m.viewport.View() + "\n" + footer
}
