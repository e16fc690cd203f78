package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"fishlog/internal/agent"
	"fishlog/internal/core"
	"fishlog/pkg/domain"
)

func runLogin(ctx context.Context, rt *env, args []string) error {
	fs := newFlagSet(rt, "login")
	phone := fs.String("phone", "", "registered phone number")
	if err := parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*phone) == "" {
		fmt.Fprintln(rt.stderr, "-phone is required")
		return errUsage
	}
	identity, err := rt.app.Session.SignIn(ctx, *phone)
	if err != nil {
		return err
	}
	fmt.Fprintf(rt.stdout, "Signed in as %s (%s)\n", identity.Name, identity.Role)
	if n, err := rt.app.Records.Reconcile(ctx); err != nil {
		rt.logger.Warn("history not refreshed after sign-in", "error", err)
	} else {
		fmt.Fprintf(rt.stdout, "Loaded %d records\n", n)
	}
	return nil
}

func runLogout(ctx context.Context, rt *env, args []string) error {
	if err := parse(newFlagSet(rt, "logout"), args); err != nil {
		return err
	}
	if err := rt.app.Session.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(rt.stdout, "Signed out")
	return nil
}

func runWhoami(_ context.Context, rt *env, args []string) error {
	if err := parse(newFlagSet(rt, "whoami"), args); err != nil {
		return err
	}
	identity := rt.app.Session.Current()
	if identity == nil {
		fmt.Fprintln(rt.stdout, "Not signed in")
		return nil
	}
	fmt.Fprintf(rt.stdout, "%s (%s) %s\n", identity.Name, identity.Role, identity.Phone)
	if sel := rt.app.Session.Selection(); sel != nil {
		fmt.Fprintf(rt.stdout, "Acting for %s (%s)\n", sel.Name, sel.ID)
	}
	status := rt.app.Records.Status()
	line := fmt.Sprintf("Sync: %s", status.State)
	if !status.LastSyncTime.IsZero() {
		line += " at " + status.LastSyncTime.In(rt.app.Zone()).Format(time.DateTime)
	}
	fmt.Fprintln(rt.stdout, line)
	if pending := rt.app.Records.Unsynced(); len(pending) > 0 {
		fmt.Fprintf(rt.stdout, "Not uploaded: %s\n", strings.Join(pending, ", "))
	}
	return nil
}

func runFishers(ctx context.Context, rt *env, args []string) error {
	fs := newFlagSet(rt, "fishers")
	query := fs.String("q", "", "filter by name, nickname or village")
	if err := parse(fs, args); err != nil {
		return err
	}
	if !core.IsResearcher(rt.app.Session.Current()) {
		return domain.ErrNotResearcher
	}
	list, err := rt.app.Session.ActiveFishers(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(rt.stdout, 0, 4, 2, ' ', 0)
	for _, f := range core.SearchFishers(list, *query) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.ID, f.Name, f.Nickname(), f.Village)
	}
	return tw.Flush()
}

func runSelectFisher(ctx context.Context, rt *env, args []string) error {
	fs := newFlagSet(rt, "select-fisher")
	id := fs.String("id", "", "fisher id")
	clearSel := fs.Bool("clear", false, "stop acting for a fisher")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *clearSel {
		if err := rt.app.Session.ClearSelection(ctx); err != nil {
			return err
		}
		fmt.Fprintln(rt.stdout, "Selection cleared")
		return nil
	}
	if *id == "" {
		fmt.Fprintln(rt.stderr, "-id or -clear is required")
		return errUsage
	}
	list, err := rt.app.Session.ActiveFishers(ctx)
	if err != nil {
		return err
	}
	for _, f := range list {
		if f.ID == *id {
			if err := rt.app.Session.SelectFisher(ctx, f); err != nil {
				return err
			}
			fmt.Fprintf(rt.stdout, "Acting for %s\n", f.Name)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrUserNotFound, *id)
}

// fishFlag collects repeated -fish name:count:weight[:price[:photo]] values.
type fishFlag []domain.FishEntry

func (f *fishFlag) String() string { return fmt.Sprintf("%d entries", len(*f)) }

func (f *fishFlag) Set(v string) error {
	parts := strings.SplitN(v, ":", 5)
	if len(parts) < 3 || strings.TrimSpace(parts[0]) == "" {
		return fmt.Errorf("want name:count:weight[:price[:photo]], got %q", v)
	}
	entry := domain.FishEntry{
		Name:   strings.TrimSpace(parts[0]),
		Count:  domain.Numeric(strings.TrimSpace(parts[1])),
		Weight: domain.Numeric(strings.TrimSpace(parts[2])),
	}
	if len(parts) > 3 {
		entry.Price = domain.Numeric(strings.TrimSpace(parts[3]))
	}
	if len(parts) > 4 {
		entry.Photo = strings.TrimSpace(parts[4])
	}
	*f = append(*f, entry)
	return nil
}

func runRecord(ctx context.Context, rt *env, args []string) error {
	fs := newFlagSet(rt, "record")
	var fish fishFlag
	fs.Var(&fish, "fish", "catch entry name:count:weight[:price[:photo]] (repeatable)")
	date := fs.String("date", "", "fishing day YYYY-MM-DD in the display zone (default today)")
	noFishing := fs.Bool("no-fishing", false, "record a day without fishing")
	spotID := fs.String("spot", "", "fishing spot id; the stored point is offset 100-500m")
	waterSource := fs.String("water-source", "", "water source")
	wait := fs.Duration("wait", 30*time.Second, "how long to wait for the upload")
	if err := parse(fs, args); err != nil {
		return err
	}
	if len(fish) == 0 && !*noFishing {
		fmt.Fprintln(rt.stderr, "at least one -fish or -no-fishing is required")
		return errUsage
	}

	records := rt.app.Records
	records.ResetDraft()
	patch := domain.DraftPatch{}
	if *date != "" {
		day, err := time.ParseInLocation(time.DateOnly, *date, rt.app.Zone())
		if err != nil {
			return fmt.Errorf("%w: -date: %v", errUsage, err)
		}
		at := domain.InstantOf(day)
		patch.Date = &at
	}
	if *noFishing {
		patch.NoFishing = noFishing
	}
	if *waterSource != "" {
		patch.WaterSource = waterSource
	}
	records.UpdateDraft(patch)
	for _, entry := range fish {
		records.AddFish(entry)
	}
	if *spotID != "" {
		spots, _, err := rt.app.Refs.Spots(ctx)
		if err != nil {
			return fmt.Errorf("load spots: %w", err)
		}
		spot, ok := findSpot(spots, *spotID)
		if !ok {
			return fmt.Errorf("unknown fishing spot %q", *spotID)
		}
		records.SelectSpot(spot)
		if _, err := records.FinalizeLocation(); err != nil {
			return err
		}
	}

	handle, err := records.SaveDraft(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(rt.stdout, "Saved %s\n", handle.Record.ID)

	waitCtx, cancel := context.WithTimeout(ctx, *wait)
	defer cancel()
	res, err := handle.Wait(waitCtx)
	switch {
	case err != nil:
		fmt.Fprintln(rt.stdout, "Upload still running; the record stays on this device")
	case res.Synced():
		fmt.Fprintf(rt.stdout, "Uploaded as %s\n", res.RemoteID)
		if len(res.FailedPhotos) > 0 {
			fmt.Fprintf(rt.stdout, "Photos kept on device for entries %v\n", res.FailedPhotos)
		}
	default:
		fmt.Fprintf(rt.stdout, "Upload failed, kept on device: %v\n", res.Err)
	}
	return nil
}

func findSpot(spots []domain.FishingSpot, id string) (domain.FishingSpot, bool) {
	for _, s := range spots {
		if s.ID == id {
			return s, true
		}
	}
	return domain.FishingSpot{}, false
}

func runSync(ctx context.Context, rt *env, args []string) error {
	if err := parse(newFlagSet(rt, "sync"), args); err != nil {
		return err
	}
	n, err := rt.app.Records.Reconcile(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(rt.stdout, "Synchronized %d records\n", n)
	return nil
}

func runHistory(_ context.Context, rt *env, args []string) error {
	fs := newFlagSet(rt, "history")
	sortBy := fs.String("sort", "date", "date, fishCount or weight")
	query := fs.String("q", "", "search by fish name or Thai date")
	if err := parse(fs, args); err != nil {
		return err
	}
	key, err := core.ParseSortKey(*sortBy)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	view := rt.app.View(*query, key)
	if len(view) == 0 {
		fmt.Fprintln(rt.stdout, "No records")
		return nil
	}
	pending := make(map[string]bool)
	for _, id := range rt.app.Records.Unsynced() {
		pending[id] = true
	}
	tw := tabwriter.NewWriter(rt.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tFISH\tSPECIES\tKG\tBAHT\tID")
	for _, rec := range view {
		sum := core.Summarize(rec, rt.app.Zone())
		id := rec.ID
		if pending[id] {
			id += " *"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n", sum.Date, sum.FishCount, sum.Species, sum.TotalWeight, sum.TotalValue, id)
	}
	return tw.Flush()
}

func runStats(_ context.Context, rt *env, args []string) error {
	if err := parse(newFlagSet(rt, "stats"), args); err != nil {
		return err
	}
	stats := rt.app.Stats()
	if len(stats) == 0 {
		fmt.Fprintln(rt.stdout, "No records")
		return nil
	}
	for _, m := range stats {
		fmt.Fprintf(rt.stdout, "%s, %d species, %s baht, %d days without fishing\n",
			m, m.Species, m.ValueLabel(), m.NoFishingDays)
	}
	return nil
}

func runSpecies(ctx context.Context, rt *env, args []string) error {
	fs := newFlagSet(rt, "species")
	query := fs.String("q", "", "filter by any species name")
	if err := parse(fs, args); err != nil {
		return err
	}
	list, cached, err := rt.app.Refs.Species(ctx)
	if err != nil {
		return err
	}
	rt.logger.Debug("species loaded", "from_cache", cached, "count", len(list))
	tw := tabwriter.NewWriter(rt.stdout, 0, 4, 2, ' ', 0)
	for _, s := range core.SearchSpecies(list, *query) {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.DisplayName(), s.ScientificName)
	}
	return tw.Flush()
}

func runSpots(ctx context.Context, rt *env, args []string) error {
	if err := parse(newFlagSet(rt, "spots"), args); err != nil {
		return err
	}
	list, cached, err := rt.app.Refs.Spots(ctx)
	if err != nil {
		return err
	}
	rt.logger.Debug("spots loaded", "from_cache", cached, "count", len(list))
	tw := tabwriter.NewWriter(rt.stdout, 0, 4, 2, ' ', 0)
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%.5f\t%.5f\n", s.ID, s.SpotName, s.Latitude, s.Longitude)
	}
	return tw.Flush()
}

func runRefresh(ctx context.Context, rt *env, args []string) error {
	fs := newFlagSet(rt, "refresh")
	name := fs.String("domain", "", "species or spots (default both)")
	if err := parse(fs, args); err != nil {
		return err
	}
	domains := []core.RefDomain{core.SpeciesDomain, core.SpotsDomain}
	if *name != "" {
		d, err := core.ParseRefDomain(*name)
		if err != nil {
			return err
		}
		domains = []core.RefDomain{d}
	}
	var errs []error
	for _, d := range domains {
		n, err := rt.app.Refs.Refresh(ctx, d)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}
		fmt.Fprintf(rt.stdout, "Refreshed %s: %d items\n", d.Name(), n)
	}
	return errors.Join(errs...)
}

func runAgent(ctx context.Context, rt *env, args []string) error {
	fs := newFlagSet(rt, "agent")
	once := fs.Bool("once", false, "run each job once and exit")
	if err := parse(fs, args); err != nil {
		return err
	}
	a := agent.New(rt.app.Records, rt.app.Refs, agent.Config{
		SyncSchedule:    rt.cfg.SyncSchedule,
		RefreshSchedule: rt.cfg.RefreshSchedule,
		MetricsAddr:     rt.cfg.MetricsAddr,
	}, agent.WithLogger(rt.logger), agent.WithGatherer(rt.registry))
	if *once {
		a.SyncOnce()
		a.RefreshOnce()
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.Start(ctx); err != nil {
		return err
	}
	waitErr := a.Wait(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(shutdownCtx); err != nil {
		rt.logger.Warn("agent shutdown", "error", err)
	}
	return waitErr
}
