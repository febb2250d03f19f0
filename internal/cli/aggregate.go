package cli

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/localservice/internal/service"
	"github.com/mesh-intelligence/localservice/pkg/types"
)

func newAggregateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate <type> <max|min|sum|average|size> [field] [filter...]",
		Short: "Reduce a numeric field over the matching records",
		Long: `Aggregate applies max, min, sum or average to a field across the records
matching the filters; size counts them and takes no field. An empty match
prints null for every function but size.

Example:
  localservice aggregate orders sum total status=paid
  localservice aggregate orders size status=open`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := recordType(args[0])
			if err != nil {
				return err
			}
			fn, err := types.ParseAggregationFunction(args[1])
			if err != nil {
				return err
			}
			rest := args[2:]
			var field string
			if fn.RequiresField() {
				if len(rest) == 0 {
					return fmt.Errorf("%s: %w", fn, types.ErrFieldRequired)
				}
				field, rest = rest[0], rest[1:]
			}
			pred, err := parseFilters(rest)
			if err != nil {
				return err
			}

			return a.withService(func(svc *service.Service) error {
				stream, err := svc.GetAggregate(cmd.Context(), types.AggregationRequest{
					RecordType: rt,
					Predicate:  pred,
					Function:   fn,
					Field:      field,
				})
				if err != nil {
					return fmt.Errorf("aggregate: %w", err)
				}
				v, err := stream.First(cmd.Context())
				if err != nil {
					return fmt.Errorf("aggregate: %w", err)
				}

				out := map[string]any{"function": fn.String(), "value": nil}
				if field != "" {
					out["field"] = field
				}
				if v.Valid {
					out["value"] = v.Float64
				}
				return a.render(cmd, out)
			})
		},
	}
}

func newSizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "size <type> [filter...]",
		Short: "Count the matching records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := recordType(args[0])
			if err != nil {
				return err
			}
			pred, err := parseFilters(args[1:])
			if err != nil {
				return err
			}
			return a.withService(func(svc *service.Service) error {
				stream, err := svc.GetSize(cmd.Context(), rt, pred)
				if err != nil {
					return fmt.Errorf("size: %w", err)
				}
				n, err := stream.First(cmd.Context())
				if err != nil {
					return fmt.Errorf("size: %w", err)
				}
				return a.render(cmd, map[string]int{"size": n})
			})
		},
	}
}

func newIDsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ids <type> <field> [filter...]",
		Short: "List the distinct integer values of a field",
		Long: `IDs prints the distinct values of an integer field across the records
matching the filters, in ascending order. Numeric strings count as
integers; any other value is an error.

Example:
  localservice ids orders customer_id status=open`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := recordType(args[0])
			if err != nil {
				return err
			}
			field := args[1]
			if err := types.ValidateField(field); err != nil {
				return err
			}
			pred, err := parseFilters(args[2:])
			if err != nil {
				return err
			}

			return a.withService(func(svc *service.Service) error {
				var extractErr error
				ids, err := svc.GetIDs(cmd.Context(), rt, pred, func(rec types.Record) int {
					n, err := intField(*rec.(*types.Document), field)
					if err != nil && extractErr == nil {
						extractErr = fmt.Errorf("record %q: %w", rec.RecordID(), err)
					}
					return n
				})
				if err != nil {
					return fmt.Errorf("ids: %w", err)
				}
				if extractErr != nil {
					return fmt.Errorf("ids: %w", extractErr)
				}

				out := make([]int, 0, len(ids))
				for id := range ids {
					out = append(out, id)
				}
				slices.Sort(out)
				return a.render(cmd, out)
			})
		},
	}
}

// intField reads an integer at a dotted path of doc.
func intField(doc types.Document, path string) (int, error) {
	var v any = map[string]any(doc)
	for _, p := range strings.Split(path, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("%w: %q is not an object", types.ErrInvalidData, p)
		}
		v = m[p]
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %s=%v is not an integer", types.ErrInvalidData, path, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q is not an integer", types.ErrInvalidData, path, n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%w: %s=%v is not an integer", types.ErrInvalidData, path, v)
	}
}
