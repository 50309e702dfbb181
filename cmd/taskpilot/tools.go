package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskpilot/taskpilot/internal/config"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the registered tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		registry, err := newRegistry(cfg)
		if err != nil {
			return err
		}

		fmt.Println(headerStyle.Render("Registered tools"))
		for _, meta := range registry.List() {
			var caps []string
			if meta.Capabilities.Read {
				caps = append(caps, "read")
			}
			if meta.Capabilities.Write {
				caps = append(caps, "write")
			}
			if meta.Capabilities.Execute {
				caps = append(caps, "execute")
			}
			if meta.Capabilities.Search {
				caps = append(caps, "search")
			}
			fmt.Printf("  %-14s risk=%-6s caps=%s\n", meta.Name, meta.Risk, strings.Join(caps, ","))
			fmt.Printf("    %s\n", dimStyle.Render(meta.Description))
			if len(meta.RequiredParams) > 0 {
				fmt.Printf("    params: %s", strings.Join(meta.RequiredParams, ", "))
				if len(meta.OptionalParams) > 0 {
					fmt.Printf(" (optional: %s)", strings.Join(meta.OptionalParams, ", "))
				}
				fmt.Println()
			}
		}
		return nil
	},
}
