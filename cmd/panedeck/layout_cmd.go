package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/asheshgoplani/panedeck/internal/dock"
	"github.com/asheshgoplani/panedeck/internal/panel"
)

var (
	colorAccent  = lipgloss.Color("#7aa2f7")
	colorGreen   = lipgloss.Color("#9ece6a")
	colorTextDim = lipgloss.Color("#787fa0")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	dimStyle    = lipgloss.NewStyle().Foreground(colorTextDim)
)

func handleLayout(args []string) error {
	if len(args) == 0 {
		printLayoutHelp()
		return nil
	}
	switch args[0] {
	case "list", "ls":
		return handleLayoutList(args[1:])
	case "show":
		return handleLayoutShow(args[1:])
	case "reset":
		return handleLayoutReset(args[1:])
	case "help", "--help", "-h":
		printLayoutHelp()
		return nil
	}
	printLayoutHelp()
	return fmt.Errorf("unknown layout command %q", args[0])
}

func printLayoutHelp() {
	fmt.Println("Usage: panedeck layout <list|show|reset> [project-id] [--json]")
}

// layoutFlags parses the --json/--quiet pair shared by layout subcommands.
func layoutFlags(name string, args []string) (*flag.FlagSet, *CLIOutput, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	quiet := fs.Bool("quiet", false, "Minimal output")
	quietShort := fs.Bool("q", false, "Minimal output (short)")
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("flag parsing: %w", err)
	}
	return fs, NewCLIOutput(*jsonOutput, *quiet || *quietShort), nil
}

func handleLayoutList(args []string) error {
	_, out, err := layoutFlags("layout list", args)
	if err != nil {
		return ignoreHelp(err)
	}
	ctx := context.Background()
	db, err := openStateDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.ListLayouts(ctx)
	if err != nil {
		return err
	}

	type row struct {
		ProjectID string    `json:"projectId"`
		Panels    int       `json:"panels"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
	var (
		b    strings.Builder
		data []row
	)
	if len(rows) == 0 {
		b.WriteString(dimStyle.Render("No stored layouts.") + "\n")
	}
	for _, r := range rows {
		n := 0
		if doc, err := dock.ParseDocument(r.Document); err == nil {
			n = len(doc.Panels)
		}
		data = append(data, row{ProjectID: r.ProjectID, Panels: n, UpdatedAt: r.UpdatedAt})
		fmt.Fprintf(&b, "%s %-24s %d panels  %s\n", bulletSymbol, r.ProjectID, n,
			dimStyle.Render(r.UpdatedAt.Format(time.DateTime)))
	}
	if ts, err := db.LastModified(); err == nil && ts > 0 && len(rows) > 0 {
		b.WriteString(dimStyle.Render("last change "+time.Unix(0, ts).Format(time.DateTime)) + "\n")
	}
	out.Print(b.String(), data)
	return nil
}

func handleLayoutShow(args []string) error {
	fs, out, err := layoutFlags("layout show", args)
	if err != nil {
		return ignoreHelp(err)
	}
	if fs.NArg() != 1 {
		return errors.New("usage: panedeck layout show <project-id>")
	}
	projectID := fs.Arg(0)

	ctx := context.Background()
	db, err := openStateDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	raw, err := db.LoadLayout(ctx, projectID)
	if err != nil {
		return err
	}
	if raw == nil {
		out.Error(fmt.Sprintf("no stored layout for %q; the default layout is used", projectID), ErrCodeNotFound)
		return nil
	}
	doc, err := dock.ParseDocument(raw)
	if err != nil {
		out.Error(fmt.Sprintf("stored layout for %q is unreadable and will be replaced: %v", projectID, err), ErrCodeInvalidLayout)
		return nil
	}
	out.Print(renderDocument(projectID, doc), doc)
	return nil
}

func handleLayoutReset(args []string) error {
	fs, out, err := layoutFlags("layout reset", args)
	if err != nil {
		return ignoreHelp(err)
	}
	if fs.NArg() != 1 {
		return errors.New("usage: panedeck layout reset <project-id>")
	}
	projectID := fs.Arg(0)

	ctx := context.Background()
	db, err := openStateDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SaveLayout(ctx, projectID, nil); err != nil {
		return err
	}
	out.Success(fmt.Sprintf("Layout for %s reset; the default layout is rebuilt on next open", projectID),
		map[string]any{"success": true, "projectId": projectID})
	return nil
}

func ignoreHelp(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

// renderDocument draws the grid as an indented tree, marking each group's
// visible tab.
func renderDocument(projectID string, doc *dock.Document) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s  %dx%d", projectID, doc.Width, doc.Height)))
	b.WriteString("\n")
	if doc.Grid != nil {
		renderNode(&b, doc, doc.Grid, 0)
	}
	return b.String()
}

func renderNode(b *strings.Builder, doc *dock.Document, n *dock.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	if n.Group == nil {
		fmt.Fprintf(b, "%s%s %s\n", indent, n.Orientation, dimStyle.Render(fmt.Sprintf("(%d)", n.Size)))
		for _, child := range n.Children {
			renderNode(b, doc, child, depth+1)
		}
		return
	}

	tabs := make([]string, 0, len(n.Group.Views))
	for _, id := range n.Group.Views {
		title := id
		if p, ok := doc.Panels[id]; ok && p.Title != "" {
			title = p.Title
		} else if d, ok := panel.Lookup(panel.ID(id)); ok {
			title = d.Title
		}
		if id == n.Group.ActiveView {
			tabs = append(tabs, activeStyle.Render("["+title+"]"))
		} else {
			tabs = append(tabs, title)
		}
	}
	fmt.Fprintf(b, "%sgroup %s %s\n", indent, strings.Join(tabs, " "), dimStyle.Render(fmt.Sprintf("(%d)", n.Size)))
}
