package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/localservice/internal/jsonl"
	"github.com/mesh-intelligence/localservice/internal/service"
	"github.com/mesh-intelligence/localservice/pkg/types"
)

// exportParallelism bounds the record types exported at once.
const exportParallelism = 4

func newExportCmd(a *app) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export [type...] --out <dir>",
		Short: "Write record types to JSONL files",
		Long: `Export writes each record type to <dir>/<type>.jsonl, one record per line.
Without type arguments every stored type is exported.

Example:
  localservice export notes orders --out backup`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outDir == "" {
				return usageErrorf("--out is required")
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			return a.withService(func(svc *service.Service) error {
				names := args
				if len(names) == 0 {
					stored, err := svc.RecordTypes(cmd.Context())
					if err != nil {
						return fmt.Errorf("export: %w", err)
					}
					for name := range stored {
						names = append(names, name)
					}
					slices.Sort(names)
				}

				counts := make([]int, len(names))
				g, ctx := errgroup.WithContext(cmd.Context())
				g.SetLimit(exportParallelism)
				for i, name := range names {
					g.Go(func() error {
						n, err := exportType(ctx, svc, name, filepath.Join(outDir, name+".jsonl"))
						counts[i] = n
						return err
					})
				}
				if err := g.Wait(); err != nil {
					return fmt.Errorf("export: %w", err)
				}

				out := make(map[string]int, len(names))
				for i, name := range names {
					out[name] = counts[i]
				}
				return a.render(cmd, map[string]any{"dir": outDir, "exported": out})
			})
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "output directory")
	return cmd
}

// exportType writes the records of one type to path and returns their count.
func exportType(ctx context.Context, svc *service.Service, name, path string) (int, error) {
	rt, err := recordType(name)
	if err != nil {
		return 0, err
	}
	stream, err := svc.Get(ctx, types.QuerySpec{RecordType: rt})
	if err != nil {
		return 0, err
	}
	batch, err := stream.First(ctx)
	if err != nil {
		return 0, err
	}

	lines := make([]json.RawMessage, 0, len(batch))
	for _, doc := range documents(batch) {
		data, err := json.Marshal(doc)
		if err != nil {
			return 0, fmt.Errorf("%s %q: %w", name, doc[types.DocumentIDField], err)
		}
		lines = append(lines, data)
	}
	if err := jsonl.Write(path, lines); err != nil {
		return 0, err
	}
	return len(lines), nil
}

func newImportCmd(a *app) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <file.jsonl> <type>",
		Short: "Store the records of a JSONL file",
		Long: `Import stores every record of a JSONL file into a record type in one
transaction. Malformed lines are skipped and counted. With --replace the
type's existing records are deleted first, in the same transaction.

Example:
  localservice import backup/notes.jsonl notes --replace`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := recordType(args[1])
			if err != nil {
				return err
			}
			lines, skipped, err := jsonl.Read(args[0])
			if err != nil {
				return err
			}

			recs := make([]types.Record, 0, len(lines))
			for i, line := range lines {
				var doc types.Document
				if err := json.Unmarshal(line, &doc); err != nil || doc == nil {
					return fmt.Errorf("%w: record %d is not an object", types.ErrInvalidData, i+1)
				}
				recs = append(recs, &doc)
			}

			return a.withService(func(svc *service.Service) error {
				if replace {
					err = svc.DeleteAndStoreObjects(cmd.Context(), rt, nil, recs)
				} else {
					err = svc.StoreObjects(cmd.Context(), rt, recs)
				}
				if err != nil {
					return fmt.Errorf("import: %w", err)
				}
				return a.render(cmd, map[string]int{"imported": len(recs), "skipped": skipped})
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "delete the type's records before storing")
	return cmd
}
