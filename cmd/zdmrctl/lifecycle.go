package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [ID]",
		Short: "Pause a download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient().post("/downloads/"+args[0]+"/pause", nil, nil); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("paused %s", args[0]))
			return nil
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [ID]",
		Short: "Resume a paused download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient().post("/downloads/"+args[0]+"/resume", nil, nil); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("resumed %s", args[0]))
			return nil
		},
	}
}

func newPauseAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause-all",
		Short: "Pause every download that isn't already PAUSED",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Paused int `json:"paused"`
			}
			if err := newAPIClient().post("/downloads/pause-all", nil, &resp); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("paused %d download(s)", resp.Paused))
			return nil
		},
	}
}

func newResumeAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume-all",
		Short: "Resume every PAUSED download",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Resumed int `json:"resumed"`
			}
			if err := newAPIClient().post("/downloads/resume-all", nil, &resp); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("resumed %d download(s)", resp.Resumed))
			return nil
		},
	}
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [ID]",
		Short: "Retry a download that ended in ERROR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient().post("/downloads/"+args[0]+"/retry", nil, nil); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("retrying %s", args[0]))
			return nil
		},
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm [ID]",
		Aliases: []string{"delete"},
		Short:   "Cancel and remove a download",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient().delete("/downloads/" + args[0]); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("removed %s", args[0]))
			return nil
		},
	}
}
