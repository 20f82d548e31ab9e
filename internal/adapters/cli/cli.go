package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/magnus-im/CertificateManager/internal/app"
	"github.com/magnus-im/CertificateManager/internal/core"
)

// ErrUsage is returned for unknown commands and malformed arguments.
var ErrUsage = errors.New("usage")

const usage = `Available commands:
  import <file.xml>                 ingest an NF-e document
  queue                             list the issuance queue
  lots <queueId>                    list eligible lots (FEFO order)
  map <queueId> <productId>         link the entry's supplier SKU to a product
  unlink <queueId>                  send the entry back to MAPPING_REQUIRED
  delete <queueId>                  remove the entry and its line item
  issue <queueId> <lotId>=<qty>...  issue from an explicit lot split
  auto <queueId>                    run the single-lot automatic allocation
  auto-all                          run the automatic allocation on every READY entry
  balance <lotId>                   show an entry lot's balance
  products                          list the active catalog
  suggest <queueId>                 ask for a catalog match for an unmapped entry`

// Run executes a one-shot CLI command for tenantID and writes its output to out.
// args is os.Args[1:]; the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, tenantID int, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w\n%s", ErrUsage, usage)
	}

	switch args[0] {
	case "import":
		if len(args) != 2 {
			return usageErr("import <file.xml>")
		}
		payload, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[1], err)
		}
		res, err := svc.ImportDocument(ctx, app.ImportDocumentRequest{TenantID: tenantID, Filename: args[1], Payload: payload})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.Message)

	case "queue", "q":
		res, err := svc.ListQueue(ctx, tenantID)
		if err != nil {
			return err
		}
		printQueue(out, res)

	case "lots":
		id, err := intArg(args, 1, "lots <queueId>")
		if err != nil {
			return err
		}
		res, err := svc.ListEligibleLots(ctx, tenantID, id)
		if err != nil {
			return err
		}
		printLots(out, res.Lots)

	case "map":
		if len(args) != 3 {
			return usageErr("map <queueId> <productId>")
		}
		queueID, err := intArg(args, 1, "map <queueId> <productId>")
		if err != nil {
			return err
		}
		productID, err := intArg(args, 2, "map <queueId> <productId>")
		if err != nil {
			return err
		}
		m, err := svc.ResolveMapping(ctx, app.ResolveMappingRequest{TenantID: tenantID, QueueID: queueID, ProductID: productID})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "SKU %s mapped to product %d (%s). Entry %d is READY.\n", m.SupplierSKU, m.ProductID, m.Class(), queueID)

	case "unlink":
		id, err := intArg(args, 1, "unlink <queueId>")
		if err != nil {
			return err
		}
		if err := svc.UnlinkEntry(ctx, tenantID, id); err != nil {
			return err
		}
		fmt.Fprintf(out, "Entry %d is MAPPING_REQUIRED.\n", id)

	case "delete":
		id, err := intArg(args, 1, "delete <queueId>")
		if err != nil {
			return err
		}
		res, err := svc.DeleteEntry(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if res.DocumentDeleted {
			fmt.Fprintf(out, "Entry %d deleted along with its document.\n", id)
		} else {
			fmt.Fprintf(out, "Entry %d deleted.\n", id)
		}

	case "issue":
		if len(args) < 3 {
			return usageErr("issue <queueId> <lotId>=<qty>...")
		}
		id, err := intArg(args, 1, "issue <queueId> <lotId>=<qty>...")
		if err != nil {
			return err
		}
		selections, err := ParseSelections(args[2:])
		if err != nil {
			return err
		}
		res, err := svc.IssueManual(ctx, app.IssueManualRequest{TenantID: tenantID, QueueID: id, Selections: selections})
		if err != nil {
			return err
		}
		printAllocation(out, res)

	case "auto":
		id, err := intArg(args, 1, "auto <queueId>")
		if err != nil {
			return err
		}
		res, err := svc.AutoIssue(ctx, tenantID, id)
		if err != nil {
			return err
		}
		printAllocation(out, res)

	case "auto-all":
		sum, err := svc.AutoIssueAll(ctx, tenantID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Processed %d: issued %d, manual review %d, error %d, mapping required %d, failed %d\n",
			sum.Processed, sum.Issued, sum.ManualReview, sum.Error, sum.MappingRequired, sum.Failed)

	case "balance", "bal":
		id, err := intArg(args, 1, "balance <lotId>")
		if err != nil {
			return err
		}
		lb, err := svc.GetLotBalance(ctx, tenantID, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Lot %d (%s): received %s, issued %s, balance %s %s\n",
			lb.Lot.ID, lb.Lot.CustomLotLabel(), lb.Lot.ReceivedQuantity, lb.Issued, lb.Balance, lb.Lot.MeasureUnit)

	case "products":
		res, err := svc.ListProducts(ctx, tenantID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-6s %-15s %-40s %s\n", "ID", "CODE", "NAME", "UNIT")
		for _, p := range res.Products {
			fmt.Fprintf(out, "%-6d %-15s %-40s %s\n", p.ID, p.Code, p.Name, p.Unit)
		}

	case "suggest":
		id, err := intArg(args, 1, "suggest <queueId>")
		if err != nil {
			return err
		}
		s, err := svc.SuggestMapping(ctx, tenantID, id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)

	default:
		return fmt.Errorf("%w: unknown command %q\n%s", ErrUsage, args[0], usage)
	}
	return nil
}

// ParseSelections parses "<lotId>=<qty>" arguments into lot selections.
func ParseSelections(args []string) ([]core.LotSelection, error) {
	out := make([]core.LotSelection, 0, len(args))
	for _, a := range args {
		lot, qty, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("%w: selection %q must be <lotId>=<qty>", ErrUsage, a)
		}
		lotID, err := strconv.Atoi(lot)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid lot id %q", ErrUsage, lot)
		}
		q, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid quantity %q", ErrUsage, qty)
		}
		out = append(out, core.LotSelection{LotID: lotID, Quantity: q})
	}
	return out, nil
}

func usageErr(form string) error {
	return fmt.Errorf("%w: %s", ErrUsage, form)
}

func intArg(args []string, i int, form string) (int, error) {
	if len(args) <= i {
		return 0, usageErr(form)
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("%w: %s (%q is not a number)", ErrUsage, form, args[i])
	}
	return n, nil
}

func printQueue(out io.Writer, res *app.QueueListResult) {
	fmt.Fprintln(out, strings.Repeat("=", 96))
	fmt.Fprintf(out, "  %-6s %-17s %-10s %-15s %12s %-6s %s\n", "ID", "STATUS", "NF-E", "SKU", "QTY", "UNIT", "MESSAGE")
	fmt.Fprintln(out, strings.Repeat("-", 96))
	for _, e := range res.Entries {
		msg := ""
		if e.ErrorMessage != nil {
			msg = *e.ErrorMessage
		}
		fmt.Fprintf(out, "  %-6d %-17s %-10s %-15s %12s %-6s %s\n",
			e.ID, e.Status, e.Document.Number, e.Item.ProductCode, e.Item.Quantity, e.Item.Unit, msg)
	}
	fmt.Fprintln(out, strings.Repeat("=", 96))
	for _, st := range []core.QueueStatus{
		core.StatusMappingRequired, core.StatusReady, core.StatusManualReview, core.StatusError, core.StatusIssued,
	} {
		if n := res.Counts[st]; n > 0 {
			fmt.Fprintf(out, "  %-17s %d\n", st, n)
		}
	}
}

func printLots(out io.Writer, lots []core.LotBalance) {
	fmt.Fprintf(out, "%-6s %-12s %-12s %12s %12s\n", "LOT", "LABEL", "EXPIRES", "ISSUED", "BALANCE")
	for _, lb := range lots {
		expires := "-"
		if lb.Lot.ExpirationDate != nil {
			expires = lb.Lot.ExpirationDate.Format("2006-01-02")
		}
		fmt.Fprintf(out, "%-6d %-12s %-12s %12s %12s\n", lb.Lot.ID, lb.Lot.CustomLotLabel(), expires, lb.Issued, lb.Balance)
	}
}

func printAllocation(out io.Writer, res *core.AllocationResult) {
	fmt.Fprintf(out, "Entry %d (%s): %s\n", res.QueueID, res.Mode, res.Status)
	if res.Message != "" {
		fmt.Fprintf(out, "  %s\n", res.Message)
	}
	for _, a := range res.Allocations {
		fmt.Fprintf(out, "  lot %d -> %s %s (lot label %s)\n", a.LotID, a.SoldQuantity, a.MeasureUnit, a.CustomLot)
	}
}
