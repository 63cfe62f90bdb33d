package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"appscout/internal/knowledge"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Inspect the learned app knowledge",
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learned apps",
	RunE:  runKnowledgeList,
}

var knowledgeShowCmd = &cobra.Command{
	Use:   "show <package>",
	Short: "Show everything learned about one app",
	Args:  cobra.ExactArgs(1),
	RunE:  runKnowledgeShow,
}

var knowledgeForgetCmd = &cobra.Command{
	Use:   "forget <package>",
	Short: "Delete the learned knowledge for one app",
	Args:  cobra.ExactArgs(1),
	RunE:  runKnowledgeForget,
}

func init() {
	knowledgeCmd.AddCommand(knowledgeListCmd)
	knowledgeCmd.AddCommand(knowledgeShowCmd)
	knowledgeCmd.AddCommand(knowledgeForgetCmd)
}

func openStore() (*knowledge.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dbPath := cfg.Knowledge.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspace, dbPath)
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("no knowledge database at %s, run the server first", dbPath)
	}
	return knowledge.NewSQLiteStore(dbPath)
}

func runKnowledgeList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	apps, err := store.LoadAll()
	if err != nil {
		return fmt.Errorf("load knowledge: %w", err)
	}
	if len(apps) == 0 {
		fmt.Println("no apps learned yet")
		return nil
	}

	packages := make([]string, 0, len(apps))
	for pkg := range apps {
		packages = append(packages, pkg)
	}
	sort.Strings(packages)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tAPP\tSCREENS\tELEMENTS\tACTIONS\tEXPLORED")
	for _, pkg := range packages {
		app := apps[pkg]
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			pkg, app.AppName, len(app.Screens), len(app.Elements), len(app.Actions),
			formatEpoch(app.LastExplored))
	}
	return w.Flush()
}

func runKnowledgeShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	app, err := store.LoadApp(args[0])
	if err != nil {
		return fmt.Errorf("load %s: %w", args[0], err)
	}
	if app == nil {
		return fmt.Errorf("nothing learned about %s", args[0])
	}

	fmt.Printf("%s (%s)\n", app.AppName, app.PackageName)
	if app.FullComponent != "" {
		fmt.Printf("  component: %s\n", app.FullComponent)
	}
	if app.LastExplored > 0 {
		fmt.Printf("  explored:  %s\n", formatEpoch(app.LastExplored))
	}

	if len(app.Screens) > 0 {
		fmt.Printf("\nscreens (%d):\n", len(app.Screens))
		ids := make([]string, 0, len(app.Screens))
		for id := range app.Screens {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			screen := app.Screens[id]
			fmt.Printf("  %-40s %s, %d elements\n", id, screen.Type, len(screen.Elements))
		}
	}

	if len(app.Actions) > 0 {
		fmt.Printf("\noperations (%d):\n", len(app.Actions))
		names := make([]string, 0, len(app.Actions))
		for name := range app.Actions {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-20s %d steps\n", name, len(app.Actions[name].Steps))
		}
	}
	return nil
}

func runKnowledgeForget(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteApp(args[0]); err != nil {
		return fmt.Errorf("delete %s: %w", args[0], err)
	}
	fmt.Printf("forgot %s\n", args[0])
	return nil
}

func formatEpoch(seconds float64) string {
	if seconds <= 0 {
		return "never"
	}
	return time.Unix(int64(seconds), 0).Format("2006-01-02 15:04")
}
