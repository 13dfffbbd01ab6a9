package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/evalab/resona/internal/insights"
)

// newInsightsCmd prints the store-wide rollup, or one episode's rollup
// when an id is given. Handy for checking a deployment without curling
// the API.
func newInsightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insights [episode-id]",
		Short: "Print analysis insights from the configured store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			st, err := openStore(ctx, cfg.Storage)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			engine := insights.New(st)
			if len(args) == 1 {
				ep, err := engine.Episode(ctx, args[0])
				if err != nil {
					return err
				}
				printEpisodeInsights(cmd, ep)
				return nil
			}

			global, err := engine.Global(ctx)
			if err != nil {
				return err
			}
			printGlobalInsights(cmd, global)
			return nil
		},
	}
}

func printGlobalInsights(cmd *cobra.Command, g *insights.GlobalInsights) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetTitle("Global insights")
	t.AppendRows([]table.Row{
		{"Episodes", g.TotalEpisodes},
		{"Shards", g.TotalShards},
		{"Recorded", (time.Duration(g.TotalDurationSeconds) * time.Second).String()},
	})
	if g.LastEpisode != nil {
		last := g.LastEpisode.ID
		if g.LastEpisode.Title != nil {
			last += " (" + *g.LastEpisode.Title + ")"
		}
		t.AppendRow(table.Row{"Last episode", last})
	}
	t.Render()

	printFrequencies(cmd, "Top emotions", g.TopEmotions)
	printFrequencies(cmd, "Top tags", g.TopTags)
	printFrequencies(cmd, "Publish states", g.TopPublishStates)
}

func printEpisodeInsights(cmd *cobra.Command, ep *insights.EpisodeInsights) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetTitle("Episode " + ep.EpisodeID)
	t.AppendRows([]table.Row{
		{"Shards", ep.ShardCount},
		{"With emotion", ep.EmotionShardCount},
	})
	if ep.DurationSeconds != nil {
		t.AppendRow(table.Row{"Duration", fmt.Sprintf("%.1fs", *ep.DurationSeconds)})
	}
	t.Render()

	printFrequencies(cmd, "Emotions", ep.Emotions)
	printFrequencies(cmd, "Valences", ep.Valences)

	if len(ep.KeyMoments) > 0 {
		km := table.NewWriter()
		km.SetOutputMirror(cmd.OutOrStdout())
		km.SetTitle("Key moments")
		km.AppendHeader(table.Row{"Shard", "Reason", "Emotion", "Snippet"})
		for _, m := range ep.KeyMoments {
			km.AppendRow(table.Row{m.ShardID, m.Reason, m.Emotion.Primary, m.Snippet})
		}
		km.Render()
	}
}

func printFrequencies(cmd *cobra.Command, title string, entries []insights.FrequencyEntry) {
	if len(entries) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Value", "Count"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.Value, e.Count})
	}
	t.Render()
}
