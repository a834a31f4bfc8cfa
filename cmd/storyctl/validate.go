package main

import (
	"fmt"
	"io"

	"novel-engine/internal/story"

	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <story.yaml>...",
		Short: "Check story files without touching the database",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	failed := 0
	for _, path := range args {
		g, err := story.LoadFile(path)
		if err != nil {
			return err
		}
		report := story.Validate(g)
		cmd.Printf("%s (%s):\n", path, g.Code)
		printReport(cmd.OutOrStdout(), report)
		if report.HasErrors() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("validation found errors in %d file(s)", failed)
	}
	return nil
}

func printReport(out io.Writer, report *story.Report) {
	errs, warns := report.Errors(), report.Warnings()
	if len(errs) == 0 && len(warns) == 0 {
		fmt.Fprintln(out, "  No issues found.")
		return
	}
	if len(errs) > 0 {
		fmt.Fprintf(out, "  Errors (%d):\n", len(errs))
		printIssues(out, errs)
	}
	if len(warns) > 0 {
		fmt.Fprintf(out, "  Warnings (%d):\n", len(warns))
		printIssues(out, warns)
	}
}

func printIssues(out io.Writer, issues []story.Issue) {
	for _, issue := range issues {
		location := issue.Scene
		if issue.Choice != "" {
			location = fmt.Sprintf("%s/%s", issue.Scene, issue.Choice)
		}
		if location == "" {
			location = "story"
		}
		fmt.Fprintf(out, "    - %s: %s (%s)\n", location, issue.Message, issue.Code)
	}
}
