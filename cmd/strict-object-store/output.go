package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
)

// render writes v as JSON or YAML, or calls text for the default format.
func (a *app) render(w io.Writer, v any, text func(io.Writer) error) error {
	switch a.cfg.Output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

func writeMetaTable(w io.Writer, metas []objectstore.ObjectMeta, prefixes []string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, p := range prefixes {
		fmt.Fprintf(tw, "\tPRE\t%s/\n", p)
	}
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", m.LastModified.UTC().Format(time.RFC3339), m.Size, m.Location)
	}
	return tw.Flush()
}

func writeMeta(w io.Writer, m objectstore.ObjectMeta) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "location:\t%s\n", m.Location)
	fmt.Fprintf(tw, "size:\t%d\n", m.Size)
	fmt.Fprintf(tw, "last_modified:\t%s\n", m.LastModified.UTC().Format(time.RFC3339Nano))
	if m.ETag != "" {
		fmt.Fprintf(tw, "etag:\t%s\n", m.ETag)
	}
	if m.Version != "" {
		fmt.Fprintf(tw, "version:\t%s\n", m.Version)
	}
	return tw.Flush()
}
