package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/nfrund/datahub/internal/config"
	"github.com/nfrund/datahub/internal/topicmgr"
	"github.com/nfrund/datahub/internal/topics"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var listOutputFormat string

// topicsCmd represents the topics command
var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Explore the topics of a topology",
	Long: `The topics command shows which topics exist, which publisher owns each one and
which subscribers listen to it.

Examples:
  # List every known topic with its owner and subscribers
  hubctl topics list

  # Same, as JSON
  hubctl topics list --format json`,
}

// topicsListCmd represents the topics list command
var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known topics with their owners and subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		topo, err := config.LoadTopology(fs, topologyPath)
		if err != nil {
			return err
		}
		rows, err := topicRows(topo)
		if err != nil {
			return err
		}

		switch listOutputFormat {
		case "json":
			return displayTopicsJSON(cmd.OutOrStdout(), rows)
		case "table":
			displayTopicsTable(cmd.OutOrStdout(), rows)
			return nil
		default:
			return fmt.Errorf("unsupported output format '%s'. Use 'table' or 'json'", listOutputFormat)
		}
	},
}

// topicRows registers the topology in a scratch registry so ownership is computed by the
// same rules the hub applies.
func topicRows(topo *config.Topology) ([]topicmgr.TopicOwnership, error) {
	reg := topicmgr.NewRegistry()
	for _, p := range topo.PublisherConfigs() {
		if err := reg.RegisterPublisher(p.Name, p.Topics); err != nil {
			return nil, err
		}
	}
	for _, s := range topo.SubscriberConfigs() {
		names := make([]string, len(s.Topics))
		for i, q := range s.Topics {
			names[i] = q.TopicName
		}
		if err := reg.RegisterSubscriber(s.Name, names); err != nil {
			return nil, err
		}
	}

	rows := make([]topicmgr.TopicOwnership, 0, len(topics.Names()))
	for _, name := range topics.Names() {
		info, ok := reg.LookupTopic(name.String())
		if !ok {
			info = topicmgr.TopicOwnership{TopicName: name.String()}
		}
		rows = append(rows, info)
	}
	return rows, nil
}

func displayTopicsTable(out io.Writer, rows []topicmgr.TopicOwnership) {
	caser := cases.Upper(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, caser.String("topic\towner\tsubscribers"))
	fmt.Fprintln(w, "-----\t-----\t-----------")
	for _, row := range rows {
		owner := row.Owner
		if owner == "" {
			owner = "-"
		}
		subs := strings.Join(row.Subscribers, ", ")
		if subs == "" {
			subs = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", row.TopicName, owner, subs)
	}
}

func displayTopicsJSON(out io.Writer, rows []topicmgr.TopicOwnership) error {
	output := struct {
		Topics []topicmgr.TopicOwnership `json:"topics"`
		Count  int                       `json:"count"`
	}{
		Topics: rows,
		Count:  len(rows),
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.AddCommand(topicsListCmd)
	topicsListCmd.Flags().StringVarP(&listOutputFormat, "format", "f", "table", "Output format (table, json)")
}
