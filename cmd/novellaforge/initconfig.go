package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/henribesnard/novellaforge/internal/config"
)

var initConfigPath string

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(initConfigPath); err != nil {
			return err
		}
		fmt.Printf("wrote default config to %s\n", initConfigPath)
		return nil
	},
}

func init() {
	initConfigCmd.Flags().StringVar(&initConfigPath, "path", "config.yaml", "where to write the config file")
}
