package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nmxmxh/sporemesh/internal/cli/ui"
)

// statsCmd scrapes a running node's /metrics endpoint and renders the
// mesh gauges as a table, rather than requiring a Prometheus server
// for a quick local check.
func statsCmd() *cobra.Command {
	var metricsAddr string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show a running node's mesh stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: timeout}
			resp, err := client.Get("http://" + metricsAddr + "/metrics")
			if err != nil {
				return fmt.Errorf("fetch metrics: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read metrics: %w", err)
			}

			rows := parseMeshRows(string(body))
			if len(rows) == 0 {
				fmt.Print(ui.InfoMsg("no mesh metrics reported yet\n"))
				return nil
			}
			fmt.Println(ui.Table([]string{"topic", "mesh size", "known peers", "median score"}, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics", "localhost:9090", "address of the node's /metrics endpoint")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "http request timeout")
	return cmd
}

// parseMeshRows extracts sporemesh_mesh_size/known_peers/mesh_median_score
// samples from the text exposition format, grouped by topic label.
func parseMeshRows(body string) [][]string {
	sizes := map[string]string{}
	known := map[string]string{}
	median := map[string]string{}
	var topicsInOrder []string
	seen := map[string]bool{}

	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}
		name, labels, value, ok := parseSample(line)
		if !ok {
			continue
		}
		topic := labels["topic"]
		if topic == "" {
			continue
		}
		if !seen[topic] {
			seen[topic] = true
			topicsInOrder = append(topicsInOrder, topic)
		}
		switch name {
		case "sporemesh_mesh_size":
			sizes[topic] = value
		case "sporemesh_known_peers":
			known[topic] = value
		case "sporemesh_mesh_median_score":
			median[topic] = value
		}
	}

	rows := make([][]string, 0, len(topicsInOrder))
	for _, topic := range topicsInOrder {
		rows = append(rows, []string{topic, sizes[topic], known[topic], median[topic]})
	}
	return rows
}

func parseSample(line string) (name string, labels map[string]string, value string, ok bool) {
	labels = map[string]string{}
	braceStart := strings.IndexByte(line, '{')
	spaceIdx := strings.LastIndexByte(line, ' ')
	if spaceIdx < 0 {
		return "", nil, "", false
	}
	value = line[spaceIdx+1:]
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return "", nil, "", false
	}

	if braceStart < 0 {
		name = strings.TrimSpace(line[:spaceIdx])
		return name, labels, value, true
	}

	name = line[:braceStart]
	braceEnd := strings.LastIndexByte(line, '}')
	if braceEnd < 0 || braceEnd < braceStart {
		return "", nil, "", false
	}
	labelBody := line[braceStart+1 : braceEnd]
	for _, kv := range strings.Split(labelBody, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key := kv[:eq]
		val := strings.Trim(kv[eq+1:], `"`)
		labels[key] = val
	}
	return name, labels, value, true
}
