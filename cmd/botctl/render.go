package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/artpar/botctl/internal/engine"
	"github.com/artpar/botctl/internal/shell/docker"
	"github.com/artpar/botctl/internal/shell/store"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	runningStyle = cellStyle.Foreground(lipgloss.Color("2"))
	failedStyle  = cellStyle.Foreground(lipgloss.Color("1"))
)

// renderInstances writes the instance table, or a notice when there are none.
func renderInstances(w io.Writer, root string, items []engine.InstanceSummary) {
	if len(items) == 0 {
		fmt.Fprintf(w, "No instances found in %s\n", root)
		return
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{it.Slug, it.State, it.ContainerName, serviceStatus(it.Services), it.Workspace})
	}
	fmt.Fprintln(w, styledTable(1, rows, "INSTANCE", "STATE", "CONTAINER", "STATUS", "WORKSPACE"))
}

// renderInstance writes the status of one instance and its services.
func renderInstance(w io.Writer, it engine.InstanceSummary) {
	fmt.Fprintf(w, "Instance:  %s\n", it.Slug)
	fmt.Fprintf(w, "State:     %s\n", it.State)
	fmt.Fprintf(w, "Container: %s\n", it.ContainerName)
	fmt.Fprintf(w, "Workspace: %s\n", it.Workspace)
	if len(it.Services) > 0 {
		renderServices(w, it.Services)
	}
}

// renderServices writes one row per container.
func renderServices(w io.Writer, services []docker.ServiceStatus) {
	rows := make([][]string, 0, len(services))
	for _, s := range services {
		rows = append(rows, []string{s.Service, s.Name, string(s.State), s.Status, s.Image})
	}
	fmt.Fprintln(w, styledTable(2, rows, "SERVICE", "CONTAINER", "STATE", "STATUS", "IMAGE"))
}

// renderHistory writes journal entries, newest first.
func renderHistory(w io.Writer, entries []store.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No operations recorded")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			e.Slug,
			e.Operation,
			string(e.Outcome),
			e.Step,
			e.Duration.String(),
			e.Message,
		})
	}
	fmt.Fprintln(w, styledTable(3, rows, "TIME", "INSTANCE", "OPERATION", "OUTCOME", "STEP", "DURATION", "MESSAGE"))
}

// styledTable renders rows, coloring the values of stateCol.
func styledTable(stateCol int, rows [][]string, headers ...string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == stateCol && row >= 0 && row < len(rows) {
				switch rows[row][col] {
				case engine.StateRunning, string(store.OutcomeOK): // container "running" too
					return runningStyle
				case engine.StateStopped, engine.StateDegraded, string(docker.ContainerStatusExited), string(docker.ContainerStatusDead), string(store.OutcomeFailed):
					return failedStyle
				}
			}
			return cellStyle
		})
	return t.Render()
}

func serviceStatus(services []docker.ServiceStatus) string {
	if len(services) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(services))
	for _, s := range services {
		status := s.Status
		if status == "" {
			status = string(s.State)
		}
		if len(services) > 1 {
			status = s.Service + ": " + status
		}
		parts = append(parts, status)
	}
	return strings.Join(parts, ", ")
}
