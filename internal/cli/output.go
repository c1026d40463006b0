package cli

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// writeSnapshot renders a configuration map as sorted "key = value" lines,
// or as a YAML mapping when format is yaml.
func writeSnapshot(w io.Writer, data map[string]string, format string) error {
	if format == formatYAML {
		out, err := yaml.Marshal(data)
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		_, err = w.Write(out)
		return err
	}
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := fmt.Fprintf(w, "%s = %s\n", key, data[key]); err != nil {
			return err
		}
	}
	return nil
}

// printDiff writes one line per key that differs between two snapshots,
// sorted by key: "+" for added, "-" for removed, "~" for changed.
func printDiff(w io.Writer, before, after map[string]string) {
	keys := make([]string, 0, len(before)+len(after))
	for key := range before {
		keys = append(keys, key)
	}
	for key := range after {
		if _, ok := before[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		beforeValue, inBefore := before[key]
		afterValue, inAfter := after[key]
		switch {
		case !inBefore:
			fmt.Fprintf(w, "+ %s = %s\n", key, afterValue)
		case !inAfter:
			fmt.Fprintf(w, "- %s\n", key)
		case beforeValue != afterValue:
			fmt.Fprintf(w, "~ %s = %s\n", key, afterValue)
		}
	}
}
