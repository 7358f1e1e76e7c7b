package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/mapping"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/sheet"
)

const cliUser = "cli"

type importOptions struct {
	mappingFile     string
	skipDuplicates  bool
	defaultProvince string
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file> [--mapping mapping.yaml]",
		Short: "Import a CSV or XLSX lead file",
		Long: "Import a CSV or XLSX lead file. The mapping file maps field names to a zero-based\n" +
			"column index or a header name. Without --mapping the mapping is guessed from the header.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), root, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.mappingFile, "mapping", "m", "", "YAML column mapping")
	cmd.Flags().BoolVar(&opts.skipDuplicates, "skip-duplicates", true, "drop rows that duplicate existing leads")
	cmd.Flags().StringVar(&opts.defaultProvince, "default-province", "", "province for rows without one")
	return cmd
}

func runImport(ctx context.Context, root *rootOptions, path string, opts importOptions, out io.Writer) error {
	sh, err := sheet.Read(ctx, path)
	if err != nil {
		return err
	}

	columns := mapping.SuggestMapping(sh.Header)
	if opts.mappingFile != "" {
		raw, err := os.ReadFile(opts.mappingFile)
		if err != nil {
			return fmt.Errorf("failed to read mapping: %w", err)
		}
		if columns, err = parseMapping(raw, sh.Header); err != nil {
			return err
		}
	}
	if err := columns.Validate(); err != nil {
		return err
	}
	printMapping(out, columns, sh.Header)

	a := newApp(root.cfg, root.logger, appOptions{Kafka: true})
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}
	defer func() { _ = a.Stop(context.Background()) }()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stored, err := a.files.Save(ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}

	ctx = appctx.SetUserID(ctx, cliUser)
	ctx = appctx.SetUserRole(ctx, appctx.RoleAdmin)
	run, runErr := a.orchestrator.Run(ctx, models.ImportRequest{
		Filename:        stored.Filename,
		ColumnMapping:   columns,
		SkipDuplicates:  opts.skipDuplicates,
		UploadedBy:      cliUser,
		DefaultProvince: opts.defaultProvince,
	})
	if run != nil {
		printRun(out, run)
	}
	return runErr
}

// parseMapping reads a YAML document of field: column pairs. A column is either a
// zero-based index or a header name matched case-insensitively.
func parseMapping(raw []byte, header []string) (models.ColumnMapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid mapping yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return models.ColumnMapping{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("invalid mapping yaml: expected field: column pairs")
	}

	// header names are rewritten to indexes so the document decodes like any stored mapping
	for i := 0; i+1 < len(root.Content); i += 2 {
		field, value := root.Content[i].Value, root.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("mapping for %q: expected a column index or header name", field)
		}
		if value.ShortTag() != "!!str" {
			continue
		}
		idx := headerIndex(header, value.Value)
		if idx < 0 {
			return nil, fmt.Errorf("mapping for %q: no column named %q", field, value.Value)
		}
		value.Tag = "!!int"
		value.Style = 0
		value.Value = strconv.Itoa(idx)
	}

	var out models.ColumnMapping
	if err := root.Decode(&out); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	return out, nil
}

func headerIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(name)) {
			return i
		}
	}
	return -1
}

func printMapping(out io.Writer, columns models.ColumnMapping, header []string) {
	fields := make([]string, 0, len(columns))
	for f := range columns {
		fields = append(fields, string(f))
	}
	sort.Strings(fields)

	bold := color.New(color.Bold)
	_, _ = bold.Fprintln(out, "Column mapping")
	for _, f := range fields {
		idx := columns.Index(models.Field(f))
		if idx == models.Unmapped {
			continue
		}
		label := ""
		if idx < len(header) {
			label = header[idx]
		}
		fmt.Fprintf(out, "  %-14s <- [%d] %s\n", f, idx, label)
	}
}

func printRun(out io.Writer, run *models.ImportRun) {
	status := color.New(color.FgGreen, color.Bold)
	if run.Status == models.ImportStateFailed {
		status = color.New(color.FgRed, color.Bold)
	}

	fmt.Fprintf(out, "Import %s ", run.ID)
	_, _ = status.Fprintln(out, strings.ToUpper(string(run.Status)))
	fmt.Fprintf(out, "  total rows:         %d\n", run.Stats.TotalRows)
	fmt.Fprintf(out, "  valid rows:         %d\n", run.Stats.ValidRows)
	fmt.Fprintf(out, "  duplicates removed: %d\n", run.Stats.DuplicatesRemoved)
	fmt.Fprintf(out, "  invalid removed:    %d\n", run.Stats.InvalidRemoved)
	_, _ = color.New(color.FgCyan).Fprintf(out, "  leads created:      %d\n", run.Stats.LeadsCreated)
	if run.ErrorMessage != "" {
		_, _ = color.New(color.FgRed).Fprintf(out, "  error: %s\n", run.ErrorMessage)
	}

	warn := color.New(color.FgYellow)
	for _, entry := range run.Logs {
		if entry.Level == models.LogLevelInfo {
			continue
		}
		_, _ = warn.Fprintf(out, "  [%s] %s\n", entry.Level, entry.Message)
	}
}
