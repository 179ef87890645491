// Package tui renders the fuel board: a static snapshot print and an
// interactive watch mode that polls the consume daemon.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ashleyhindle/fuel/internal/consume"
	"github.com/ashleyhindle/fuel/internal/store"
)

var (
	clrSubtle    = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#666666"}
	clrHighlight = lipgloss.AdaptiveColor{Light: "#0F766E", Dark: "#2DD4BF"}
	clrGreen     = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	clrYellow    = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	clrRed       = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	clrBlue      = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
	clrDim       = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#555555"}
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	dimStyle    = lipgloss.NewStyle().Foreground(clrDim)

	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(clrSubtle).
			Padding(0, 1).
			Width(30)

	readyHeadStyle   = lipgloss.NewStyle().Bold(true).Foreground(clrBlue)
	workingHeadStyle = lipgloss.NewStyle().Bold(true).Foreground(clrYellow)
	reviewHeadStyle  = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	blockedHeadStyle = lipgloss.NewStyle().Bold(true).Foreground(clrRed)
	doneHeadStyle    = lipgloss.NewStyle().Bold(true).Foreground(clrGreen)
)

const cardTitleWidth = 26

// botMarker tags rows the daemon is acting on, as opposed to tasks an
// operator moved by hand.
const botMarker = "[bot]"

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func taskCard(t *store.Task, extra string) string {
	line := fmt.Sprintf("%s p%d", t.ID, t.Priority)
	if extra != "" {
		line += " " + extra
	}
	return line + "\n" + truncate(t.Title, cardTitleWidth)
}

func column(head lipgloss.Style, label string, count int, cards []string) string {
	body := dimStyle.Render("(empty)")
	if len(cards) > 0 {
		body = strings.Join(cards, "\n\n")
	}
	content := head.Render(fmt.Sprintf("%s (%d)", label, count)) + "\n\n" + body
	return columnStyle.Render(content)
}

// RenderBoard renders a full snapshot as a five-column board.
func RenderBoard(snap *consume.Snapshot) string {
	var ready, working, review, blocked, done []string

	for i := range snap.Ready {
		ready = append(ready, taskCard(&snap.Ready[i], ""))
	}
	for i := range snap.InProgress {
		e := &snap.InProgress[i]
		extra := botMarker
		if e.Duration != "" {
			extra += " " + e.Duration
		}
		working = append(working, taskCard(&e.Task, extra))
	}
	for i := range snap.Review {
		review = append(review, taskCard(&snap.Review[i].Task, botMarker))
	}
	for i := range snap.Blocked {
		blocked = append(blocked, taskCard(&snap.Blocked[i], ""))
	}
	for i := range snap.Done {
		done = append(done, taskCard(&snap.Done[i], ""))
	}

	board := lipgloss.JoinHorizontal(lipgloss.Top,
		column(readyHeadStyle, "READY", len(snap.Ready), ready),
		column(workingHeadStyle, "IN PROGRESS", len(snap.InProgress), working),
		column(reviewHeadStyle, "REVIEW", len(snap.Review), review),
		column(blockedHeadStyle, "BLOCKED", len(snap.Blocked), blocked),
		column(doneHeadStyle, "DONE", len(snap.Done), done),
	)

	var footer []string
	if len(snap.Human) > 0 {
		var names []string
		for i := range snap.Human {
			names = append(names, snap.Human[i].Task.ID)
		}
		footer = append(footer, blockedHeadStyle.Render("needs human: ")+strings.Join(names, ", "))
	}
	for _, h := range snap.Health {
		footer = append(footer, dimStyle.Render(
			fmt.Sprintf("agent %s: %s (%d/%d ok)", h.Agent, h.Status, h.Successes, h.Spawns)))
	}
	if snap.InstanceID != "" {
		footer = append(footer, dimStyle.Render(
			fmt.Sprintf("daemon %s up %s", snap.InstanceID[:8], snap.Uptime)))
	}

	out := headerStyle.Render("fuel board") + "\n" + board
	if len(footer) > 0 {
		out += "\n" + strings.Join(footer, "\n")
	}
	return out + "\n"
}
