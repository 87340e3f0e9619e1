package main

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/doma-dev/doma/pkg/config"
)

func renderConfigTable(cfg *config.ControllerConfig) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Option", "Value"})
	for _, pair := range cfg.Flatten() {
		t.AppendRow(table.Row{pair[0], pair[1]})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
