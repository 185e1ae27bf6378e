package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"timelineboard/internal/apiclient"
	"timelineboard/internal/timeline"

	"github.com/spf13/cobra"
)

var (
	renderOut    string
	renderScale  string
	renderSearch string
	renderJSON   bool
)

var renderCmd = &cobra.Command{
	Use:   "render <projectId>",
	Short: "Render a project timeline as SVG (or JSON geometry)",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&renderOut, "output", "o", "-", "output file, - for stdout")
	renderCmd.Flags().StringVar(&renderScale, "scale", string(timeline.ScaleWeeks), "weeks or days")
	renderCmd.Flags().StringVar(&renderSearch, "search", "", "filter modules")
	renderCmd.Flags().BoolVar(&renderJSON, "json", false, "print layout JSON instead of SVG")
}

func runRender(cmd *cobra.Command, args []string) error {
	projectID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid project id %q", args[0])
	}
	scale := timeline.Scale(renderScale)
	if scale != timeline.ScaleWeeks && scale != timeline.ScaleDays {
		return fmt.Errorf("scale must be weeks or days")
	}

	log := newLogger()
	reg, err := newRegistry(log)
	if err != nil {
		return err
	}

	_, snap, err := reg.Open(cmd.Context(), projectID, apiclient.Query{Search: renderSearch})
	if err != nil {
		return err
	}

	layout := timeline.DefaultLayoutConfig()
	if cfg, _ := loadConfig(); cfg != nil {
		layout = cfg.Layout
	}
	layout.Scale = scale
	chart := timeline.Layout(snap.Modules, layout)

	var w io.Writer = cmd.OutOrStdout()
	if renderOut != "-" {
		f, err := os.Create(renderOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if renderJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(chart); err != nil {
			return err
		}
	} else if err := timeline.RenderSVG(w, chart, snap.Modules); err != nil {
		return err
	}

	for _, rowErr := range chart.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "row %d (%s): %s\n", rowErr.Row, rowErr.Name, rowErr.Message)
	}
	return nil
}
