package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	steam "github.com/zergu1ar/steamtrade"
)

func newInventoryCommand(rootOpts *rootOptions) *cobra.Command {
	var all, marketable bool

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "List the inventory per app and context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			_, client, err := login(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer client.Close()

			self := client.GetSteamId()
			stats, err := client.GetInventoryAppStats(ctx, self)
			if err != nil {
				return err
			}
			apps := make([]string, 0, len(stats))
			for app := range stats {
				apps = append(apps, app)
			}
			sort.Strings(apps)

			var filters []steam.Filter
			if marketable {
				filters = append(filters, steam.IsMarketable(true))
			}

			out := cmd.OutOrStdout()
			for _, app := range apps {
				st := stats[app]
				appID, err := strconv.ParseUint(app, 10, 32)
				if err != nil {
					continue
				}
				for _, c := range st.Contexts {
					items, err := client.GetInventory(ctx, self, uint32(appID), c.ID, !all)
					if err != nil {
						return err
					}
					items = steam.FilterItems(items, filters...)
					printInventory(out, st.Name, uint32(appID), c.ID, c.Name, items)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include untradable items")
	cmd.Flags().BoolVar(&marketable, "marketable", false, "only list items that can be sold on the market")
	return cmd
}

func printInventory(out io.Writer, app string, appID uint32, contextID uint64, contextName string, items []*steam.InventoryItem) {
	fmt.Fprintf(out, "%s (%d/%d) %s: %d items\n", app, appID, contextID, contextName, len(items))
	for _, item := range items {
		name := ""
		if item.Desc != nil {
			name = item.Desc.Name
		}
		fmt.Fprintf(out, "  %d_%d_%d\t%s\tx%d\n", item.AppID, item.ContextID, item.AssetID, name, item.Amount)
	}
}
