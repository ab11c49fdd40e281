package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/z-dmr/zdmr/internal/model"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all downloads known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			var downloads []*model.Download
			if err := newAPIClient().get("/downloads", &downloads); err != nil {
				return err
			}
			printDownloadsTable(downloads)
			return nil
		},
	}
}

func printDownloadsTable(downloads []*model.Download) {
	t := table.New().
		Headers("ID", "STATUS", "PROGRESS", "SIZE", "URL")
	for _, d := range downloads {
		t.Row(
			shortID(d.ID),
			statusStyle(string(d.Status)).Render(string(d.Status)),
			progressCell(d),
			sizeCell(d),
			truncate(d.OriginalURL, 60),
		)
	}
	fmt.Println(headerStyle.Render("Downloads"))
	fmt.Println(t.Render())
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func progressCell(d *model.Download) string {
	if d.ContentLength <= 0 {
		return humanize.Bytes(uint64(d.BytesDownloaded))
	}
	pct := float64(d.BytesDownloaded) * 100 / float64(d.ContentLength)
	return fmt.Sprintf("%.1f%%", pct)
}

func sizeCell(d *model.Download) string {
	if d.ContentLength < 0 {
		return "?"
	}
	return humanize.Bytes(uint64(d.ContentLength))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
