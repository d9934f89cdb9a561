package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	apihttp "github.com/aescanero/newsroom/pkg/api/http"
	"github.com/aescanero/newsroom/pkg/domain"
)

func newPitchCommand(opts *rootOptions) *cobra.Command {
	var (
		pitch    domain.StoryPitch
		keywords string
		sources  string
		direct   bool
	)

	cmd := &cobra.Command{
		Use:   "pitch <slug>",
		Short: "Submit a story pitch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pitch.Slug = args[0]
			pitch.Keywords = splitList(keywords)
			pitch.Sources = splitList(sources)

			path := "/api/v1/pitches"
			if direct {
				path = "/api/v1/stories"
			}
			var resp apihttp.PitchResponse
			if err := opts.client().do(cmd.Context(), http.MethodPost, path, pitch, &resp); err != nil {
				return err
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Story %s %s (correlation %s)\n", resp.StoryID, resp.Status, resp.CorrelationID)
			return nil
		},
	}

	cmd.Flags().StringVar(&pitch.HeadlineIdea, "headline", "", "Working headline")
	cmd.Flags().StringVar(&pitch.Angle, "angle", "", "Story angle")
	cmd.Flags().StringVar(&pitch.Beat, "beat", "", "Desk beat")
	cmd.Flags().StringVar(&keywords, "keywords", "", "Comma separated keywords")
	cmd.Flags().StringVar(&sources, "sources", "", "Comma separated sources")
	cmd.Flags().StringVar(&pitch.Rationale, "rationale", "", "Why the story matters")
	cmd.Flags().IntVar(&pitch.Priority, "priority", 0, "Pitch priority")
	cmd.Flags().BoolVar(&direct, "direct", false, "Start the story without going through the pitch topic")

	return cmd
}

func newApprovalCommand(opts *rootOptions, approved bool) *cobra.Command {
	use, short := "approve <story-id>", "Approve a story held for editor review"
	if !approved {
		use, short = "reject <story-id>", "Reject a story held for editor review"
	}

	var reason string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !approved && strings.TrimSpace(reason) == "" {
				return fmt.Errorf("--reason is required when rejecting")
			}
			req := apihttp.ApprovalRequest{Approved: &approved, Reason: reason}
			path := "/api/v1/stories/" + url.PathEscape(args[0]) + "/approval"
			if err := opts.client().do(cmd.Context(), http.MethodPost, path, req, nil); err != nil {
				return err
			}
			verb := "Approved"
			if !approved {
				verb = "Rejected"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Note recorded with the decision")
	return cmd
}

func newRetryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <story-id>",
		Short: "Resume a failed story from its last stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var summary apihttp.StorySummary
			path := "/api/v1/stories/" + url.PathEscape(args[0]) + "/retry"
			if err := opts.client().do(cmd.Context(), http.MethodPost, path, nil, &summary); err != nil {
				return err
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Retrying %s from %s\n", summary.StoryID, summary.Stage)
			return nil
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <story-id>",
		Short: "Show a story and its stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var inst domain.Instance
			path := "/api/v1/stories/" + url.PathEscape(args[0])
			if err := opts.client().do(cmd.Context(), http.MethodGet, path, nil, &inst); err != nil {
				return err
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), inst)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderInstance(&inst))
			return nil
		},
	}
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var (
		status string
		stage  string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if status != "" {
				query.Set("status", status)
			}
			if stage != "" {
				query.Set("stage", stage)
			}
			query.Set("limit", strconv.Itoa(limit))
			query.Set("offset", strconv.Itoa(offset))

			var page apihttp.ListResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/stories?"+query.Encode(), nil, &page); err != nil {
				return err
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), page)
			}
			if len(page.Stories) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stories")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStories(page.Stories))
			if page.Total > page.Offset+len(page.Stories) {
				fmt.Fprintf(cmd.OutOrStdout(), "Showing %d of %d\n", len(page.Stories), page.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&stage, "stage", "", "Filter by stage")
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
