package report

import (
	"fmt"
	"image/color"
	"sort"
	"strings"
	"time"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/session"
)

// bandWidth is the width of the 0-9 band bar.
const bandWidth = 27

// Analyses renders one card per analysis, in the given order.
func Analyses(module ielts.Module, analyses []ielts.Analysis) string {
	cards := make([]string, 0, len(analyses)+1)
	cards = append(cards, titleStyle.Render(fmt.Sprintf("%s analysis", title(module))))
	for i := range analyses {
		cards = append(cards, analysisCard(&analyses[i]))
	}
	if module == ielts.Reading && len(analyses) > 1 {
		cards = append(cards, hintStyle.Render(fmt.Sprintf("%d passages scored independently", len(analyses))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, cards...)
}

func analysisCard(a *ielts.Analysis) string {
	rows := []string{
		row("Band", bandBar(a.OverallScore)),
		row("Correct", fmt.Sprintf("%d / %d", a.CorrectAnswers, a.TotalQuestions)),
		row("Duration", a.Duration.Round(time.Second).String()),
	}
	if a.Module == ielts.Reading {
		rows = append([]string{row("Passage", a.SubjectID)}, rows...)
	}

	if len(a.Criteria) > 0 {
		rows = append(rows, "")
		names := make([]string, 0, len(a.Criteria))
		for name := range a.Criteria {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := a.Criteria[name]
			line := fmt.Sprintf("%-44s %4.1f", name, c.Score)
			if c.Feedback != "" {
				line += "  " + hintStyle.Render(truncate(c.Feedback, 60))
			}
			rows = append(rows, bodyStyle.Render(line))
		}
	}
	if a.Feedback != "" {
		rows = append(rows, "", bodyStyle.Width(76).Render(a.Feedback))
	}
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// Session renders a session view with its answers.
func Session(v *session.View) string {
	s := &v.Session
	rows := []string{
		titleStyle.Render(fmt.Sprintf("%s  %s", title(s.Module), v.ExamTitle)),
		row("Session", s.ID),
		row("Status", statusText(s.Status)),
		row("Paid", fmt.Sprintf("%d tokens", s.PricePaid)),
		row("Language", s.Lang),
	}
	if s.StartTime != nil {
		rows = append(rows, row("Started", s.StartTime.Local().Format("2006-01-02 15:04:05")))
	}
	if d := s.Duration(); d > 0 {
		rows = append(rows, row("Duration", d.Round(time.Second).String()))
	}

	for _, p := range v.Parts {
		rows = append(rows, "", bodyStyle.Bold(true).Render(fmt.Sprintf("Part %d  %s", p.Number, p.Title)))
		rows = append(rows, hintStyle.Render(fmt.Sprintf("%d questions", p.Questions)))
		for _, a := range v.Answers {
			if a.PartID == p.ID {
				rows = append(rows, answerLine(&a))
			}
		}
	}
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func answerLine(a *ielts.Answer) string {
	var mark string
	switch {
	case !a.Resolved():
		mark = pendingStyle.Render("?")
	case a.Correct():
		mark = correctStyle.Render("✓")
	default:
		mark = incorrectStyle.Render("✗")
	}
	value := a.Value.String()
	if !a.Answered {
		value = hintStyle.Render("(no answer)")
	}
	line := fmt.Sprintf("%s %-8s %s", mark, a.QuestionID, truncate(value, 50))
	if a.Resolved() && !a.Correct() && a.CorrectAnswer != "" {
		line += hintStyle.Render("  -> " + a.CorrectAnswer)
	}
	return line
}

// bandBar draws the band on a 0-9 scale, coloured by level.
func bandBar(score float64) string {
	filled := int(score / 9 * bandWidth)
	filled = max(0, min(filled, bandWidth))

	var c color.Color
	switch {
	case score >= 7:
		c = Success
	case score >= 5:
		c = Secondary
	case score >= 4:
		c = Warning
	default:
		c = Error
	}
	bar := lipgloss.NewStyle().Background(c).Render(strings.Repeat(" ", filled)) +
		lipgloss.NewStyle().Background(Border).Render(strings.Repeat(" ", bandWidth-filled))
	return bar + "  " + lipgloss.NewStyle().Foreground(c).Bold(true).Render(fmt.Sprintf("%.1f", score))
}

func statusText(s ielts.Status) string {
	switch s {
	case ielts.StatusCompleted:
		return correctStyle.Render(string(s))
	case ielts.StatusCancelled, ielts.StatusExpired:
		return incorrectStyle.Render(string(s))
	}
	return pendingStyle.Render(string(s))
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func title(m ielts.Module) string {
	s := strings.ToLower(string(m))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
