package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uilive"
	"github.com/spf13/cobra"
)

// watchEnvelope mirrors api.envelope without importing the api package
// (zdmrctl only ever speaks to it over HTTP).
type watchEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type watchUpdate struct {
	DownloadID      string  `json:"DownloadID"`
	BytesDownloaded int64   `json:"BytesDownloaded"`
	ContentLength   int64   `json:"ContentLength"`
	SpeedBPS        float64 `json:"SpeedBPS"`
	Status          string  `json:"Status"`
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream live progress for all downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newAPIClient().events()
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			writer := uilive.New()
			writer.Start()
			defer writer.Stop()

			rows := map[string]watchUpdate{}
			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				var env watchEnvelope
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env); err != nil {
					continue
				}
				if env.Type != "ProgressBatch" {
					continue
				}
				var updates []watchUpdate
				if err := json.Unmarshal(env.Data, &updates); err != nil {
					continue
				}
				for _, u := range updates {
					rows[u.DownloadID] = u
				}
				renderWatchFrame(writer, rows)
			}
			return scanner.Err()
		},
	}
}

func renderWatchFrame(w *uilive.Writer, rows map[string]watchUpdate) {
	for _, u := range rows {
		fmt.Fprintf(w, "%s  %-12s  %9s/s  %s\n",
			shortID(u.DownloadID), statusStyle(u.Status).Render(u.Status),
			humanize.Bytes(uint64(u.SpeedBPS)),
			progressBar(u.BytesDownloaded, u.ContentLength),
		)
	}
}

func progressBar(done, total int64) string {
	if total <= 0 {
		return humanize.Bytes(uint64(done))
	}
	pct := float64(done) * 100 / float64(total)
	return fmt.Sprintf("%.1f%%", pct)
}
