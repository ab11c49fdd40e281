package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAddCmd() *cobra.Command {
	var destDir string
	cmd := &cobra.Command{
		Use:   "add [URL...]",
		Short: "Queue one or more URLs for download",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				IDs []string `json:"ids"`
			}
			body := map[string]any{"urls": args, "dest_dir": destDir}
			if err := newAPIClient().post("/downloads", body, &resp); err != nil {
				return err
			}
			for _, id := range resp.IDs {
				printSuccess(fmt.Sprintf("queued %s", id))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&destDir, "dest", "d", "", "destination directory (default: Settings.DefaultDownloadDir)")
	return cmd
}
