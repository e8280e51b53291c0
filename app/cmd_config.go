package app

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JiscSD/rdss-repository-core/content"
)

func NewCmdConfig(out io.Writer, config *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved repository setup and the current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doConfig(out, config)
		},
	}
}

func doConfig(out io.Writer, config *Config) error {
	fmt.Fprintln(out, "\n################################################################# Repository")
	for _, line := range config.summary() {
		fmt.Fprintf(out, "%-12s %s\n", line[0], line[1])
	}
	if config.v == nil {
		return nil
	}
	fmt.Fprintln(out, "\n################################################################# Configuration")
	_, err := fmt.Fprintf(out, "%s", config)
	return err
}

// summary describes what the server would build from c, one pair of label
// and description per line.
func (c *Config) summary() [][2]string {
	var lines [][2]string
	add := func(label, format string, args ...interface{}) {
		lines = append(lines, [2]string{label, fmt.Sprintf(format, args...)})
	}

	switch c.Storage.Backend {
	case backendBolt:
		add("storage", "bolt file %s", c.Storage.BoltPath)
	case backendDynamoDB:
		add("storage", "dynamodb table %s", c.Storage.DynamoDBTable)
	default:
		add("storage", "%s", c.Storage.Backend)
	}

	if c.AssetStore.FileDir != "" {
		add("assetstore", "%d: directory %s", storeFile, c.AssetStore.FileDir)
	}
	if c.AssetStore.S3Location != "" {
		add("assetstore", "%d: %s", storeS3, c.AssetStore.S3Location)
	}
	add("incoming", "%d", c.AssetStore.Incoming)

	add("handles", "%s/* for %s", c.Identifier.HandlePrefix, strings.Join(c.Identifier.Types, ", "))

	if c.Events.SNSTopic != "" {
		add("events", "sns %s", c.Events.SNSTopic)
	} else {
		add("events", "log")
	}

	enabled := map[string]bool{}
	for _, name := range c.Pipeline.PluginsEnabled {
		enabled[name] = true
	}
	sequences := c.pluginSequences()
	for _, t := range content.Types {
		names, _ := sequences[t.String()].([]string)
		var active []string
		for _, name := range names {
			if enabled[name] {
				active = append(active, name)
			}
		}
		if len(active) == 0 {
			add(t.String(), "core, store")
			continue
		}
		add(t.String(), "core, %s, store", strings.Join(active, ", "))
	}

	return lines
}
