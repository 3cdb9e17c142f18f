package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/asheshgoplani/panedeck/internal/panel"
)

type panelInfo struct {
	ID        panel.ID `json:"id"`
	Title     string   `json:"title"`
	Placement string   `json:"placement"`
}

func handlePanels(args []string) error {
	fs := flag.NewFlagSet("panels", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return ignoreHelp(err)
	}
	out := NewCLIOutput(*jsonOutput, false)

	if query := strings.Join(fs.Args(), " "); query != "" {
		d, ok := panel.Find(query)
		if !ok {
			return fmt.Errorf("no panel matches %q", query)
		}
		info := panelInfo{ID: d.ID, Title: d.Title, Placement: d.Placement.String()}
		out.Print(fmt.Sprintf("%s %s\n", headerStyle.Render(string(d.ID)), dimStyle.Render(d.Title)), info)
		return nil
	}

	var (
		b     strings.Builder
		infos []panelInfo
	)
	for _, d := range panel.All() {
		infos = append(infos, panelInfo{ID: d.ID, Title: d.Title, Placement: d.Placement.String()})
		fmt.Fprintf(&b, "%s %-10s %-9s %s\n", bulletSymbol, d.ID, d.Title, dimStyle.Render(d.Placement.String()))
	}
	out.Print(b.String(), infos)
	return nil
}
