// Command quantctl runs one-off store operations: resolving references,
// importing downloaded history, merging factors and exporting adjusted series.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"quantstore/config"
	"quantstore/logging"
	"quantstore/market"
	"quantstore/pipeline"
	"quantstore/store"
)

const usage = `usage: quantctl [-config path] <command> [flags] [args]

commands:
  resolve <ref>...                 print the registry row for each reference
  list [-type t] [-exchange e]     list registry rows
  import -dir d [ref...]           ingest {d}/{code}.csv history files
  merge-factors <ref>...           copy quarterly factors onto daily candles
  export [-db path] <ref>...       write adjusted candles to SQLite
  missing-ticks -start d -end d <ref>
                                   list trading days without tick files
`

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Encoding: "console"})
	defer logger.Sync()

	st, err := store.New(cfg.Store.Root, store.Options{
		Exchanges:         cfg.Exchanges(),
		RegistryCacheSize: cfg.Registry.CacheSize,
		Adjust:            market.AdjustOptions{ForwardFillFactor: cfg.Adjust.ForwardFillFactor},
	}, logger.Named("store"))
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	ctx := context.Background()
	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "resolve":
		err = runResolve(st, args)
	case "list":
		err = runList(st, args)
	case "import":
		err = runImport(ctx, cfg, st, logger, args)
	case "merge-factors":
		err = runMergeFactors(st, args)
	case "export":
		err = runExport(ctx, cfg, st, logger, args)
	case "missing-ticks":
		err = runMissingTicks(st, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Sync()
		log.Fatalf("%s: %v", cmd, err)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resolveAll(st *store.Store, refs []string) ([]market.Security, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("at least one security reference is required")
	}
	secs := make([]market.Security, 0, len(refs))
	for _, ref := range refs {
		sec, err := st.Resolve(store.TextRef(ref))
		if err != nil {
			return nil, err
		}
		secs = append(secs, sec)
	}
	return secs, nil
}

func runResolve(st *store.Store, args []string) error {
	secs, err := resolveAll(st, args)
	if err != nil {
		return err
	}
	return printJSON(secs)
}

func runList(st *store.Store, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	typ := fs.String("type", "", "security type")
	exchange := fs.String("exchange", "", "comma separated exchanges")
	fs.Parse(args)

	var q store.SecurityQuery
	if *typ != "" {
		t, err := market.ParseSecurityType(*typ)
		if err != nil {
			return err
		}
		q.Type = t
	}
	if *exchange != "" {
		q.Exchanges = strings.Split(*exchange, ",")
	}
	secs, err := st.Securities(q)
	if err != nil {
		return err
	}
	for _, s := range secs {
		fmt.Printf("%s\t%s\n", s.ID, s.Name)
	}
	return nil
}

func runImport(ctx context.Context, cfg *config.Config, st *store.Store, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dir := fs.String("dir", cfg.Ingestion.ImportDir, "directory of {code}.csv files")
	fs.Parse(args)
	if *dir == "" {
		return fmt.Errorf("-dir is required")
	}

	refs := fs.Args()
	if len(refs) == 0 {
		refs = cfg.Ingestion.Securities
	}
	var secs []market.Security
	var err error
	if len(refs) == 0 {
		secs, err = st.Securities(store.SecurityQuery{Type: market.TypeStock})
	} else {
		secs, err = resolveAll(st, refs)
	}
	if err != nil {
		return err
	}

	in := pipeline.NewIngester(pipeline.IngestionConfig{Concurrency: cfg.Ingestion.Concurrency},
		st, pipeline.DirSource{Dir: *dir}, logger.Named("ingestion"))
	result, err := in.Run(ctx, secs)
	if err != nil {
		return err
	}
	for id, n := range result.Rows {
		fmt.Printf("%s\t%d\n", id, n)
	}
	for id, ferr := range result.Failed {
		fmt.Fprintf(os.Stderr, "%s\tFAILED\t%v\n", id, ferr)
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("run %s: %d securities failed", result.RunID, len(result.Failed))
	}
	return nil
}

func runMergeFactors(st *store.Store, args []string) error {
	secs, err := resolveAll(st, args)
	if err != nil {
		return err
	}
	for _, sec := range secs {
		n, err := st.MergeFactors(sec)
		if err != nil {
			return fmt.Errorf("%s: %w", sec.ID, err)
		}
		fmt.Printf("%s\t%d rows changed\n", sec.ID, n)
	}
	return nil
}

func runExport(ctx context.Context, cfg *config.Config, st *store.Store, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := fs.String("db", cfg.Export.SQLitePath, "sqlite database path")
	fs.Parse(args)

	secs, err := resolveAll(st, fs.Args())
	if err != nil {
		return err
	}
	exporter, err := pipeline.NewSQLiteExporter(*dbPath, logger.Named("export"))
	if err != nil {
		return err
	}
	defer exporter.Close()

	for _, sec := range secs {
		res, err := st.KData(store.SecurityRef(sec), store.KDataQuery{})
		if err != nil {
			return fmt.Errorf("%s: %w", sec.ID, err)
		}
		if res.Adjusted == nil {
			logger.Warn("no factor column, skipped", zap.String("security", sec.ID))
			continue
		}
		if err := exporter.ExportAdjusted(ctx, sec, res.Adjusted); err != nil {
			return fmt.Errorf("%s: %w", sec.ID, err)
		}
		fmt.Printf("%s\t%d rows\n", sec.ID, len(res.Adjusted))
	}
	return nil
}

func runMissingTicks(st *store.Store, args []string) error {
	fs := flag.NewFlagSet("missing-ticks", flag.ExitOnError)
	start := fs.String("start", "", "first day")
	end := fs.String("end", "", "last day")
	fs.Parse(args)

	from, err := market.ParseTime(*start)
	if err != nil {
		return fmt.Errorf("-start: %w", err)
	}
	to, err := market.ParseTime(*end)
	if err != nil {
		return fmt.Errorf("-end: %w", err)
	}
	secs, err := resolveAll(st, fs.Args())
	if err != nil {
		return err
	}
	for _, sec := range secs {
		cal, err := st.Calendar(sec.Type, sec.Exchange)
		if err != nil {
			return err
		}
		days, err := st.MissingTickDates(sec, from, to, cal)
		if err != nil {
			return err
		}
		for _, d := range days {
			fmt.Printf("%s\t%s\n", sec.ID, market.FormatDay(d))
		}
	}
	return nil
}
