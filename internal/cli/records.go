package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/localservice/internal/service"
	"github.com/mesh-intelligence/localservice/pkg/types"
)

// recordType returns the document record type named name.
func recordType(name string) (types.RecordType, error) {
	rt := types.DocumentType(name)
	if err := rt.Validate(); err != nil {
		return rt, err
	}
	return rt, nil
}

func newStoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "store <type> <json|->",
		Short: "Store one record or an array of records",
		Long: `Store upserts JSON records into a record type. Each record is an object
whose "id" member is its identity; storing an existing id replaces it.
Pass "-" to read the JSON from standard input.

Example:
  localservice store notes '{"id":"n1","body":"hello"}'
  localservice store notes '[{"id":"n1"},{"id":"n2"}]'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := recordType(args[0])
			if err != nil {
				return err
			}
			data, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			recs, err := parseDocuments(data)
			if err != nil {
				return err
			}
			return a.withService(func(svc *service.Service) error {
				if err := svc.StoreObjects(cmd.Context(), rt, recs); err != nil {
					return fmt.Errorf("store: %w", err)
				}
				return a.render(cmd, map[string]int{"stored": len(recs)})
			})
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	var (
		sorts []string
		limit int
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "get <type> [filter...]",
		Short: "List the records matching the filters",
		Long: `Get prints the records of a type matching every filter.

Filters take the form field<op>value with op one of = != > >= < <= ~
("~" is substring match). Values are read as JSON when possible, so
n=1 compares numbers and name=bob compares strings. "field=[a,b]"
matches any of the listed values.

With --watch, get keeps running and prints the result again after each
change to the record type, until interrupted.

Example:
  localservice get notes
  localservice get notes priority>=2 body~urgent --sort priority:desc
  localservice get notes --watch`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := querySpec(args, sorts, limit)
			if err != nil {
				return err
			}
			a.watching = watch
			return a.withService(func(svc *service.Service) error {
				ctx := cmd.Context()
				if watch {
					var stop context.CancelFunc
					ctx, stop = signal.NotifyContext(ctx, os.Interrupt)
					defer stop()
				}

				stream, err := svc.Get(ctx, spec)
				if err != nil {
					return fmt.Errorf("get: %w", err)
				}
				defer stream.Close()

				if !watch {
					batch, err := stream.First(ctx)
					if err != nil {
						return fmt.Errorf("get: %w", err)
					}
					return a.render(cmd, documents(batch))
				}

				for batch, err := range stream.All() {
					if err != nil {
						return fmt.Errorf("get: %w", err)
					}
					if err := a.render(cmd, documents(batch)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&sorts, "sort", nil, "sort by field[:asc|:desc], repeatable")
	cmd.Flags().IntVar(&limit, "limit", 0, "return at most n records")
	cmd.Flags().BoolVar(&watch, "watch", false, "print again after every change until interrupted")
	return cmd
}

// querySpec builds a query from "<type> [filter...]" arguments.
func querySpec(args, sorts []string, limit int) (types.QuerySpec, error) {
	rt, err := recordType(args[0])
	if err != nil {
		return types.QuerySpec{}, err
	}
	pred, err := parseFilters(args[1:])
	if err != nil {
		return types.QuerySpec{}, err
	}
	sort, err := parseSort(sorts)
	if err != nil {
		return types.QuerySpec{}, err
	}
	if limit < 0 {
		return types.QuerySpec{}, types.ErrInvalidLimit
	}
	if limit > 0 {
		pred = types.And(pred, func(q types.Query) types.Query { return q.Limit(limit) })
	}
	return types.QuerySpec{RecordType: rt, Predicate: pred, Sort: sort}, nil
}

func newUpdateCmd(a *app) *cobra.Command {
	var where []string
	cmd := &cobra.Command{
		Use:   "update <type> <field=value...>",
		Short: "Set fields on the first record matching --where",
		Long: `Update assigns each field=value to the first record matching the --where
filters, in one transaction. Dotted fields address nested objects. A
record's "id" cannot be changed. No match is not an error.

Example:
  localservice update notes body=done --where id=n1`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := recordType(args[0])
			if err != nil {
				return err
			}
			assign, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			pred, err := parseFilters(where)
			if err != nil {
				return err
			}
			return a.withService(func(svc *service.Service) error {
				updated := 0
				err := svc.Update(cmd.Context(), rt, pred, func(rec types.Record) error {
					doc := *rec.(*types.Document)
					for field, value := range assign {
						if err := setPath(doc, field, value); err != nil {
							return err
						}
					}
					updated++
					return nil
				})
				if err != nil {
					return fmt.Errorf("update: %w", err)
				}
				return a.render(cmd, map[string]int{"updated": updated})
			})
		},
	}
	cmd.Flags().StringArrayVar(&where, "where", nil, "filter selecting the record, repeatable")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "delete <type> [filter...]",
		Short: "Delete the records matching the filters",
		Long: `Delete removes every record of a type matching the filters. Deleting a
whole type requires --all.

Example:
  localservice delete notes body~draft
  localservice delete notes --all`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && !all {
				return usageErrorf("delete without filters removes every record; pass --all")
			}
			rt, err := recordType(args[0])
			if err != nil {
				return err
			}
			pred, err := parseFilters(args[1:])
			if err != nil {
				return err
			}
			return a.withService(func(svc *service.Service) error {
				if err := svc.Delete(cmd.Context(), rt, pred); err != nil {
					return fmt.Errorf("delete: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "allow deleting every record of the type")
	return cmd
}

func newReplaceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replace <type> <json-array|-> [filter...]",
		Short: "Atomically delete the matching records and store new ones",
		Long: `Replace deletes the records matching the filters (all records of the type
when no filter is given) and stores the given records, in one transaction.

Example:
  localservice replace notes '[{"id":"n9"}]' body~draft`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := recordType(args[0])
			if err != nil {
				return err
			}
			data, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			recs, err := parseDocuments(data)
			if err != nil {
				return err
			}
			pred, err := parseFilters(args[2:])
			if err != nil {
				return err
			}
			return a.withService(func(svc *service.Service) error {
				if err := svc.DeleteAndStoreObjects(cmd.Context(), rt, pred, recs); err != nil {
					return fmt.Errorf("replace: %w", err)
				}
				return a.render(cmd, map[string]int{"stored": len(recs)})
			})
		},
	}
}
