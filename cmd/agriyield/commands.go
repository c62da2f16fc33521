package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/paulmach/orb"

	"agriyield/internal/core"
	"agriyield/internal/history"
	"agriyield/pkg/domain"
	"agriyield/pkg/geometry"
)

type command func(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) error

var commands = map[string]command{
	"init":    runInit,
	"farmers": runFarmers,
	"plots":   runPlots,
	"history": runHistory,
	"labels":  runLabels,
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errUsage)
}

func subcommand(args []string) (string, []string) {
	if len(args) == 0 {
		return "", nil
	}
	return args[0], args[1:]
}

func runInit(ctx context.Context, a *app, args []string, stdout, _ io.Writer) error {
	if len(args) != 0 {
		return usageErr("init takes no arguments")
	}
	seeded, err := a.svc.Initialize(ctx)
	if err != nil {
		return err
	}
	if seeded || a.seeded {
		_, err = fmt.Fprintln(stdout, "seeded default dataset")
	} else {
		_, err = fmt.Fprintln(stdout, "store already initialized")
	}
	return err
}

func runFarmers(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) error {
	sub, rest := subcommand(args)
	switch sub {
	case "list":
		fs := newFlagSet("farmers list", stderr)
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(rest); err != nil {
			return usageErr("farmers list: %v", err)
		}
		listing := a.svc.ListFarmers(ctx)
		warnDegraded(stderr, "farmers", listing.State, listing.Err)
		if *asJSON {
			return writeJSON(stdout, nonNil(listing.Items))
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tNAME")
		for _, f := range listing.Items {
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", f.ID, f.Name)
		}
		return tw.Flush()
	case "add":
		name := strings.TrimSpace(strings.Join(rest, " "))
		if name == "" {
			return usageErr("farmers add requires a name")
		}
		farmer, res, err := a.svc.CreateFarmer(ctx, name)
		if err != nil {
			return err
		}
		printWarnings(stderr, res)
		_, err = fmt.Fprintln(stdout, farmer.ID)
		return err
	case "delete":
		if len(rest) != 1 {
			return usageErr("farmers delete requires one id")
		}
		rep, err := a.svc.DeleteFarmer(ctx, domain.FarmerID(rest[0]))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "removed %d history entries, %d land plots, farmer removed: %t\n",
			rep.HistoryRemoved, rep.LandPlotsRemoved, rep.FarmerRemoved)
		return err
	default:
		return usageErr("unknown farmers subcommand %q", sub)
	}
}

func runPlots(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) error {
	sub, rest := subcommand(args)
	switch sub {
	case "list":
		fs := newFlagSet("plots list", stderr)
		farmer := fs.String("farmer", "", "only plots of this farmer")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(rest); err != nil {
			return usageErr("plots list: %v", err)
		}
		var listing core.Listing[domain.LandPlot]
		if *farmer != "" {
			listing = a.svc.LandPlotsForFarmer(ctx, domain.FarmerID(*farmer))
		} else {
			listing = a.svc.ListLandPlots(ctx)
		}
		warnDegraded(stderr, "land plots", listing.State, listing.Err)
		if *asJSON {
			return writeJSON(stdout, nonNil(listing.Items))
		}
		ix := history.Build(a.svc.ListFarmers(ctx).Items, a.svc.ListLandPlots(ctx).Items)
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tFARMER\tLABEL\tAREA (ha)\tSOIL")
		for _, p := range listing.Items {
			owner, _ := ix.FarmerName(p.FarmerID)
			label, _ := ix.LandLabel(p.ID)
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n", p.ID, owner, label, p.Area, p.SoilType)
		}
		return tw.Flush()
	case "add":
		fs := newFlagSet("plots add", stderr)
		farmer := fs.String("farmer", "", "owning farmer id")
		soil := fs.String("soil", string(domain.SoilLoamy), "soil type")
		ringPath := fs.String("ring", "", "GeoJSON boundary file, - for stdin")
		if err := fs.Parse(rest); err != nil {
			return usageErr("plots add: %v", err)
		}
		if *farmer == "" || *ringPath == "" {
			return usageErr("plots add requires -farmer and -ring")
		}
		ring, err := readRingFile(*ringPath)
		if err != nil {
			return err
		}
		area, payload := geometry.Encode(ring)
		plot, res, err := a.svc.CreateLandPlot(ctx, domain.LandPlot{
			FarmerID: domain.FarmerID(*farmer),
			Area:     area,
			Boundary: payload,
			SoilType: domain.SoilType(*soil),
		})
		if err != nil {
			return err
		}
		printWarnings(stderr, res)
		_, err = fmt.Fprintf(stdout, "%s\t%.2f ha\n", plot.ID, plot.Area)
		return err
	case "show":
		if len(rest) != 1 {
			return usageErr("plots show requires one id")
		}
		return showPlot(ctx, a, domain.LandPlotID(rest[0]), stdout)
	default:
		return usageErr("unknown plots subcommand %q", sub)
	}
}

func showPlot(ctx context.Context, a *app, id domain.LandPlotID, stdout io.Writer) error {
	plot, err := a.svc.FindLandPlot(ctx, id)
	if err != nil {
		return err
	}
	snap := a.svc.Snapshot(ctx)
	ix := history.Build(snap.Farmers.Items, snap.LandPlots.Items)
	owner, _ := ix.FarmerName(plot.FarmerID)
	label, _ := ix.LandLabel(plot.ID)

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "id\t%s\n", plot.ID)
	_, _ = fmt.Fprintf(tw, "farmer\t%s (%s)\n", owner, plot.FarmerID)
	_, _ = fmt.Fprintf(tw, "label\t%s\n", label)
	_, _ = fmt.Fprintf(tw, "soil\t%s\n", plot.SoilType)
	_, _ = fmt.Fprintf(tw, "area\t%.2f ha\n", plot.Area)
	switch b := decodeBoundary(plot.Boundary).(type) {
	case geometry.Polygon:
		_, _ = fmt.Fprintf(tw, "boundary\t%d vertices, %.4f ha measured\n", len(b.Ring)-1, b.Hectares())
	case geometry.Empty:
		_, _ = fmt.Fprintln(tw, "boundary\tnone")
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	entries := history.ForLand(snap.History.Items, plot.ID)
	_, _ = fmt.Fprintf(stdout, "\n%d predictions\n", len(entries))
	for _, l := range ix.ResolveAll(entries) {
		_, _ = fmt.Fprintf(stdout, "  %s  %s  %s\n", l.Timestamp, l.Title, l.Yield)
	}
	return nil
}

func decodeBoundary(payload string) geometry.Boundary {
	b, err := geometry.Decode(payload)
	if err != nil {
		return geometry.Empty{}
	}
	return b
}

func runHistory(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) error {
	sub, rest := subcommand(args)
	switch sub {
	case "list":
		fs := newFlagSet("history list", stderr)
		land := fs.String("land", "", "only entries for this land plot")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(rest); err != nil {
			return usageErr("history list: %v", err)
		}
		var listing core.Listing[domain.HistoryEntry]
		if *land != "" {
			listing = a.svc.HistoryForLand(ctx, domain.LandPlotID(*land))
		} else {
			listing = a.svc.ListHistory(ctx)
		}
		warnDegraded(stderr, "history", listing.State, listing.Err)
		if *asJSON {
			return writeJSON(stdout, nonNil(listing.Items))
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tWHEN\tCROP\tAREA (ha)")
		for _, e := range listing.Items {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\n", e.ID, e.DisplayTimestamp, e.Input.CropType, e.Input.Area)
		}
		return tw.Flush()
	case "record":
		fs := newFlagSet("history record", stderr)
		inputPath := fs.String("input", "", "prediction input JSON file")
		resultPath := fs.String("result", "", "prediction result JSON file")
		if err := fs.Parse(rest); err != nil {
			return usageErr("history record: %v", err)
		}
		if *inputPath == "" || *resultPath == "" {
			return usageErr("history record requires -input and -result")
		}
		var input domain.PredictionInput
		data, err := os.ReadFile(*inputPath) // #nosec G304 -- operator-supplied path
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &input); err != nil {
			return fmt.Errorf("parse input: %w", err)
		}
		raw, err := os.ReadFile(*resultPath) // #nosec G304 -- operator-supplied path
		if err != nil {
			return err
		}
		if !json.Valid(raw) {
			return fmt.Errorf("result file %s is not valid JSON", *resultPath)
		}
		entry, res, err := a.svc.CreateHistoryEntry(ctx, input, domain.NewPayload(raw))
		if err != nil {
			return err
		}
		printWarnings(stderr, res)
		_, err = fmt.Fprintln(stdout, entry.ID)
		return err
	case "clear":
		if _, err := a.svc.ClearHistory(ctx); err != nil {
			return err
		}
		_, err := fmt.Fprintln(stdout, "history cleared")
		return err
	default:
		return usageErr("unknown history subcommand %q", sub)
	}
}

func runLabels(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) error {
	if len(args) != 0 {
		return usageErr("labels takes no arguments")
	}
	snap := a.svc.Snapshot(ctx)
	warnDegraded(stderr, "farmers", snap.Farmers.State, snap.Farmers.Err)
	warnDegraded(stderr, "land plots", snap.LandPlots.State, snap.LandPlots.Err)
	warnDegraded(stderr, "history", snap.History.State, snap.History.Err)

	ix := history.Build(snap.Farmers.Items, snap.LandPlots.Items)
	for _, l := range ix.ResolveAll(snap.History.Items) {
		if _, err := fmt.Fprintf(stdout, "%s\t%s\t%s\n", l.Timestamp, l.Title, l.Yield); err != nil {
			return err
		}
	}
	if orphans := ix.Orphans(snap.History.Items); len(orphans) > 0 {
		_, _ = fmt.Fprintf(stderr, "%d history entries reference removed farmers or plots\n", len(orphans))
	}
	return nil
}

func runMeasure(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("measure", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	showPayload := fs.Bool("payload", false, "print the boundary payload")
	if err := fs.Parse(args); err != nil {
		return usageErr("measure: %v", err)
	}
	if fs.NArg() != 1 {
		return usageErr("measure requires one file")
	}
	ring, err := readRingFile(fs.Arg(0))
	if err != nil {
		return err
	}
	b := geometry.Measure(ring)
	if _, err := fmt.Fprintf(stdout, "%.4f ha (stored as %.2f)\n", b.Hectares(), geometry.RoundHectares(b.Hectares())); err != nil {
		return err
	}
	if *showPayload {
		_, err = fmt.Fprintln(stdout, b.Payload())
	}
	return err
}

func readRingFile(path string) (ring orb.Ring, err error) {
	if path == "-" {
		return geometry.ReadRing(os.Stdin)
	}
	f, err := os.Open(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return geometry.ReadRing(f)
}

func warnDegraded(stderr io.Writer, what string, state core.ReadState, err error) {
	if state == core.ReadMalformed || state == core.ReadFailed {
		_, _ = fmt.Fprintf(stderr, "warning: %s collection %s: %v\n", what, state, err)
	}
}

func printWarnings(stderr io.Writer, res core.Result) {
	for _, w := range res.Warnings() {
		_, _ = fmt.Fprintf(stderr, "warning: %s\n", w.Message)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
