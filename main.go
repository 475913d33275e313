// Command casefile imports forensic logs into a throwaway session store and
// runs one query or analytics call against them, printing JSON.
//
//	casefile [flags] <file-or-directory>...
//
// Several paths are imported separately and merged into one session.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"casefile/app"
	"casefile/app/fileloader"
	"casefile/app/interfaces"
	"casefile/app/settings"
)

// Config holds the command line.
type Config struct {
	SettingsPath string
	Op           string
	Request      string
	Column       string
	Options      interfaces.FileOptions
	Paths        []string
	AddPlugin    string
	RemovePlugin string
}

func main() {
	cfg := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "casefile: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.SettingsPath, "config", "", "Path to a YAML settings file")
	flag.StringVar(&cfg.Op, "op", "info", "Operation: info, query, count, distinct, export, histogram, gaps, bursts, coverage, stack, ioc, sheets, plugins")
	flag.StringVar(&cfg.Request, "request", "{}", "Request as JSON (query request or the operation's request)")
	flag.StringVar(&cfg.Column, "column", "", "Column for the distinct operation")
	flag.StringVar(&cfg.Options.Sheet, "sheet", "", "Spreadsheet sheet name or 1-based index")
	flag.BoolVar(&cfg.Options.NoHeaderRow, "no-header", false, "Treat the first line as data")
	flag.StringVar(&cfg.Options.Delimiter, "delimiter", "", "Delimiter override: tab, pipe, comma or semicolon")
	flag.StringVar(&cfg.Options.IngestTimezoneOverride, "tz", "", "Timezone for zone-less spreadsheet dates")
	flag.StringVar(&cfg.Options.PluginID, "plugin", "", "Force a converter plugin by ID")
	flag.StringVar(&cfg.Options.FilePattern, "pattern", "", "Glob for directory imports, e.g. **/*.evtx")
	flag.StringVar(&cfg.AddPlugin, "add-plugin", "", "Register the plugin at this path in the settings file and exit")
	flag.StringVar(&cfg.RemovePlugin, "remove-plugin", "", "Unregister the plugin at this path from the settings file and exit")

	flag.Parse()
	cfg.Paths = flag.Args()
	if len(cfg.Paths) == 0 && cfg.AddPlugin == "" && cfg.RemovePlugin == "" && cfg.Op != "plugins" {
		fmt.Fprintln(os.Stderr, "usage: casefile [flags] <file-or-directory>...")
		flag.PrintDefaults()
		os.Exit(2)
	}
	return cfg
}

func run(ctx context.Context, cfg Config, out io.Writer) error {
	svc := settings.NewService(cfg.SettingsPath)
	if cfg.AddPlugin != "" || cfg.RemovePlugin != "" {
		return managePlugins(svc, cfg, out)
	}
	s, err := svc.GetSettings()
	if err != nil {
		return err
	}
	// the process exits right after one call
	s.AsyncSearchIndex = false

	if cfg.Op == "sheets" {
		if len(cfg.Paths) == 0 {
			return fmt.Errorf("sheets needs a workbook path")
		}
		sheets, err := fileloader.ListSheets(cfg.Paths[0])
		if err != nil {
			return err
		}
		return writeJSON(out, sheets)
	}

	a, err := app.NewApp(s, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Op == "plugins" {
		return writeJSON(out, pluginSummaries(a))
	}
	if len(cfg.Paths) == 0 {
		return fmt.Errorf("no input paths")
	}

	var ids []string
	for _, p := range cfg.Paths {
		info, err := a.OpenFile(ctx, p, cfg.Options)
		if err != nil {
			return err
		}
		ids = append(ids, info.ID)
	}
	tabID := ids[0]
	if len(ids) > 1 {
		merged, err := a.MergeTabs(ctx, ids, nil)
		if err != nil {
			return err
		}
		tabID = merged.ID
	}

	if cfg.Op == "export" {
		var req interfaces.QueryRequest
		if err := decode(cfg.Request, &req); err != nil {
			return err
		}
		_, err := a.Export(ctx, tabID, req, out)
		return err
	}
	result, err := dispatch(ctx, a, tabID, cfg)
	if err != nil {
		return err
	}
	return writeJSON(out, result)
}

type pluginSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
}

func pluginSummaries(a *app.App) []pluginSummary {
	out := []pluginSummary{}
	for _, p := range a.Plugins().List() {
		out = append(out, pluginSummary{ID: p.Manifest.ID, Name: p.Manifest.Name, Extensions: p.Manifest.Extensions})
	}
	return out
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dispatch(ctx context.Context, a *app.App, tabID string, cfg Config) (any, error) {
	switch cfg.Op {
	case "info":
		info, _ := a.TabInfo(tabID)
		return info, nil
	case "query":
		var req interfaces.QueryRequest
		if err := decode(cfg.Request, &req); err != nil {
			return nil, err
		}
		return a.Query(ctx, tabID, req), nil
	case "count":
		var req interfaces.QueryRequest
		if err := decode(cfg.Request, &req); err != nil {
			return nil, err
		}
		return map[string]int64{"count": a.Count(ctx, tabID, req)}, nil
	case "distinct":
		var req interfaces.QueryRequest
		if err := decode(cfg.Request, &req); err != nil {
			return nil, err
		}
		return a.DistinctValues(ctx, tabID, cfg.Column, req), nil
	case "histogram":
		var req interfaces.HistogramRequest
		if err := decode(cfg.Request, &req); err != nil {
			return nil, err
		}
		return a.Histogram(ctx, tabID, req), nil
	case "gaps":
		var req interfaces.GapRequest
		if err := decode(cfg.Request, &req); err != nil {
			return nil, err
		}
		return a.Gaps(ctx, tabID, req), nil
	case "bursts":
		var req interfaces.BurstRequest
		if err := decode(cfg.Request, &req); err != nil {
			return nil, err
		}
		return a.Bursts(ctx, tabID, req), nil
	case "coverage":
		var req interfaces.CoverageRequest
		if err := decode(cfg.Request, &req); err != nil {
			return nil, err
		}
		return a.Coverage(ctx, tabID, req), nil
	case "stack":
		var req interfaces.StackRequest
		if err := decode(cfg.Request, &req); err != nil {
			return nil, err
		}
		return a.Stack(ctx, tabID, req), nil
	case "ioc":
		var req interfaces.IOCRequest
		if err := decode(cfg.Request, &req); err != nil {
			return nil, err
		}
		return a.MatchIOCs(ctx, tabID, req), nil
	default:
		return nil, fmt.Errorf("unknown operation %q", cfg.Op)
	}
}

// managePlugins edits the plugin list of the settings file and prints it.
func managePlugins(svc *settings.Service, cfg Config, out io.Writer) error {
	if svc.Path() == "" {
		return fmt.Errorf("-config is required to manage plugins")
	}
	if cfg.AddPlugin != "" {
		if _, err := svc.AddPlugin(cfg.AddPlugin); err != nil {
			return err
		}
	}
	if cfg.RemovePlugin != "" {
		if err := svc.RemovePlugin(cfg.RemovePlugin); err != nil {
			return err
		}
	}
	s, err := svc.GetSettings()
	if err != nil {
		return err
	}
	return writeJSON(out, s.Plugins)
}

func decode(s string, v any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("invalid -request: %w", err)
	}
	return nil
}
