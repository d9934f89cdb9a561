package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	apihttp "github.com/aescanero/newsroom/pkg/api/http"
	"github.com/aescanero/newsroom/pkg/domain"
)

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	return tw
}

func renderStories(stories []apihttp.StorySummary) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"Story", "Slug", "Stage", "Status", "Updated", "Reason"})
	for _, s := range stories {
		tw.AppendRow(table.Row{s.StoryID, s.Slug, s.Stage, s.Status, formatTime(s.UpdatedAt), s.Reason})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, WidthMax: 48},
	})
	return tw.Render()
}

func renderInstance(inst *domain.Instance) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Story:       %s\n", inst.StoryID)
	fmt.Fprintf(&b, "Slug:        %s\n", inst.Pitch.Slug)
	fmt.Fprintf(&b, "Headline:    %s\n", inst.Pitch.HeadlineIdea)
	fmt.Fprintf(&b, "Stage:       %s\n", inst.Stage)
	fmt.Fprintf(&b, "Status:      %s\n", inst.Status)
	fmt.Fprintf(&b, "Correlation: %s\n", inst.CorrelationID)
	if inst.Reason != "" {
		fmt.Fprintf(&b, "Reason:      %s\n", inst.Reason)
	}
	if inst.Wait != nil {
		wait := inst.Wait.Signal
		if inst.Wait.Deadline != nil {
			wait += " until " + formatTime(*inst.Wait.Deadline)
		}
		fmt.Fprintf(&b, "Waiting:     %s\n", wait)
	}

	if len(inst.Transitions) > 0 {
		tw := newTable()
		tw.AppendHeader(table.Row{"#", "From", "To", "At", "Reason"})
		for i, t := range inst.Transitions {
			tw.AppendRow(table.Row{i + 1, t.From, t.To, formatTime(t.At), t.Reason})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		})
		b.WriteString(tw.Render())
		b.WriteString("\n")
	}
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
