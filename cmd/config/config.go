// Package config implements `deckbridge config`, which writes and shows
// configuration files.
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/errors"
)

// Command creates the config command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(initCommand(), showCommand(settings))
	return cmd
}

func initCommand() *cobra.Command {
	var (
		path  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the built-in defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				p, err := conf.UserConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if err := writeDefaults(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "output", "o", "", "Destination file (default is the user config path)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func showCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return show(cmd.OutOrStdout(), settings)
		},
	}
}

func writeDefaults(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.Newf("%s already exists, use --force to overwrite", path).
				Component("config").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	defaults, err := conf.DefaultSettings()
	if err != nil {
		return err
	}
	return conf.SaveYAMLConfig(path, defaults)
}

func show(w io.Writer, settings *conf.Settings) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("error encoding settings: %w", err)
	}
	return enc.Close()
}
