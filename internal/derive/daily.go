package derive

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dwsmith1983/gtfsload/internal/metrics"
	"github.com/dwsmith1983/gtfsload/internal/value"
	"github.com/dwsmith1983/gtfsload/internal/write"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// DailyScheduleDataset is the contract key of the daily schedule table.
const DailyScheduleDataset = "daily-schedule"

// Calendar exception types.
const (
	serviceAdded   = 1
	serviceRemoved = 2
)

// DailyOptions configures one daily schedule build.
type DailyOptions struct {
	// Timezone the feed's clock times are read in. Empty uses the feed's
	// agency timezone, then UTC.
	Timezone string
	// Method overrides the write method. The default merges on record_id
	// within the service date, so rebuilding a date does not duplicate rows.
	Method types.WriteMethod
}

// ServiceDate returns d as a YYYYMMDD integer.
func ServiceDate(d time.Time) int64 {
	y, m, day := d.Date()
	return int64(y*10000 + int(m)*100 + day)
}

// ParseServiceDate parses a YYYYMMDD or YYYY-MM-DD date.
func ParseServiceDate(s string) (time.Time, error) {
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid service date %q, want YYYYMMDD", s)
}

// ClockOffset parses a GTFS HH:MM:SS time. Hours may exceed 23 for trips
// that run past midnight.
func ClockOffset(s string) (time.Duration, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, false
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, false
		}
		n[i] = v
	}
	if n[1] > 59 || n[2] > 59 {
		return 0, false
	}
	return time.Duration(n[0])*time.Hour + time.Duration(n[1])*time.Minute + time.Duration(n[2])*time.Second, true
}

// serviceDayStart is the instant GTFS clock times on date count from: noon
// in loc minus twelve hours. It differs from midnight on DST change days.
func serviceDayStart(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 12, 0, 0, 0, loc).Add(-12 * time.Hour)
}

// DailySchedule expands every stop time of the trips running on date into
// one row and writes them to the daily schedule table. A date no loaded
// feed covers fails with ErrNoFeed; a date without service is an empty
// batch.
func (b *Builder) DailySchedule(ctx context.Context, date time.Time, opts DailyOptions) (*types.BatchResult, error) {
	ctx, span := tracer.Start(ctx, "derive.DailySchedule")
	defer span.End()
	span.SetAttributes(attribute.Int64("service_date", ServiceDate(date)))

	res := b.newResult(DailyScheduleDataset)
	err := b.dailySchedule(ctx, date, opts, res)
	if err != nil {
		span.RecordError(err)
	}
	b.finish(ctx, res, err)
	return res, err
}

func (b *Builder) dailySchedule(ctx context.Context, date time.Time, opts DailyOptions, res *types.BatchResult) error {
	c, err := b.registry.Get(DailyScheduleDataset)
	if err != nil {
		return err
	}
	day := ServiceDate(date)

	hash, err := b.activeFeed(ctx, day)
	if err != nil {
		return err
	}
	loc, err := b.location(ctx, hash, opts.Timezone)
	if err != nil {
		return err
	}
	log := b.logger.With("service_date", day, "feed_hash", hash)

	services, err := b.activeServices(ctx, hash, date)
	if err != nil {
		return err
	}
	if len(services) == 0 {
		log.Info("no service on date")
		res.Status = types.BatchEmpty
		res.Message = fmt.Sprintf("no service on %d", day)
		return nil
	}

	raw, err := b.expand(ctx, hash, services, date, loc)
	if err != nil {
		return err
	}
	res.RowsRaw = raw.Len()
	log.Info("daily schedule expanded", "services", len(services), "rows", raw.Len(), "timezone", loc.String())
	if raw.Len() == 0 {
		res.Status = types.BatchEmpty
		res.Message = fmt.Sprintf("no stop times on %d", day)
		return nil
	}

	cleaned, stats, err := b.cleaner.CleanWithStats(ctx, c, raw)
	if err != nil {
		return err
	}
	res.RowsValid = cleaned.Len()

	req := write.Request{Table: c.Table, Rows: cleaned, Method: opts.Method, Contract: c}
	if req.Method == "" {
		req.Method = types.WriteMerge
	}
	if c.Partition != nil {
		req.Merge.WindowColumn = c.Partition.Field
	}
	wr, err := b.writer.Write(ctx, req)
	if err != nil {
		metrics.RecordWriteFailure(ctx, c.Dataset)
		return fmt.Errorf("writing %s: %w", c.Table, err)
	}
	res.RowsWritten = wr.RowsWritten
	res.Tables = append(res.Tables, types.TableResult{Dataset: c.Dataset, Object: hash, Stats: stats, Write: wr})
	if n := len(wr.RowErrors); n > 0 {
		metrics.RecordWriteFailure(ctx, c.Dataset)
		res.AddError(hash, "", "write", fmt.Errorf("%d rows rejected by %s", n, c.Table))
	}
	return nil
}

// activeFeed returns the hash of the loaded feed valid on day. A missing
// start or end date leaves that side open; among several candidates the
// most recently started feed wins.
func (b *Builder) activeFeed(ctx context.Context, day int64) (string, error) {
	info, err := b.read(ctx, "feed_info", nil)
	if err != nil {
		return "", err
	}
	var (
		best      string
		bestStart int64 = -1
	)
	for _, r := range info.Rows {
		hash, _ := value.String(r["feed_hash"])
		if hash == "" {
			continue
		}
		start, hasStart := value.Int(r["feed_start_date"])
		if hasStart && start > day {
			continue
		}
		if end, ok := value.Int(r["feed_end_date"]); ok && end < day {
			continue
		}
		if !hasStart {
			start = 0
		}
		if start > bestStart || (start == bestStart && hash < best) {
			best, bestStart = hash, start
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: %d", ErrNoFeed, day)
	}
	return best, nil
}

// location resolves the timezone clock times are read in.
func (b *Builder) location(ctx context.Context, hash, tz string) (*time.Location, error) {
	if tz == "" {
		agencies, err := b.read(ctx, "agency", map[string]any{"feed_hash": hash})
		if err != nil {
			return nil, err
		}
		for _, r := range agencies.Rows {
			if s, ok := value.String(r["agency_timezone"]); ok && s != "" {
				tz = s
				break
			}
		}
	}
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}

// activeServices returns the service IDs running on date: weekly patterns
// covering it plus added exceptions, minus removed ones.
func (b *Builder) activeServices(ctx context.Context, hash string, date time.Time) (map[string]bool, error) {
	day := ServiceDate(date)
	weekday := strings.ToLower(date.Weekday().String())

	cal, err := b.read(ctx, "calendar", map[string]any{"feed_hash": hash})
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool)
	for _, r := range cal.Rows {
		start, ok1 := value.Int(r["start_date"])
		end, ok2 := value.Int(r["end_date"])
		runs, _ := value.Int(r[weekday])
		if !ok1 || !ok2 || start > day || end < day || runs != 1 {
			continue
		}
		if id, ok := value.String(r["service_id"]); ok {
			active[id] = true
		}
	}

	exceptions, err := b.read(ctx, "calendar_dates", map[string]any{"feed_hash": hash, "date": day})
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, r := range exceptions.Rows {
		id, ok := value.String(r["service_id"])
		if !ok {
			continue
		}
		switch kind, _ := value.Int(r["exception_type"]); kind {
		case serviceAdded:
			active[id] = true
		case serviceRemoved:
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(active, id)
	}
	return active, nil
}

// expand joins the feed's stop times to the active trips, their routes and
// stops, ordered by trip and stop sequence.
func (b *Builder) expand(ctx context.Context, hash string, services map[string]bool, date time.Time, loc *time.Location) (*types.Table, error) {
	byHash := map[string]any{"feed_hash": hash}
	trips, err := b.read(ctx, "trips", byHash)
	if err != nil {
		return nil, err
	}
	routes, err := b.read(ctx, "routes", byHash)
	if err != nil {
		return nil, err
	}
	stops, err := b.read(ctx, "stops", byHash)
	if err != nil {
		return nil, err
	}
	stopTimes, err := b.read(ctx, "stop_times", byHash)
	if err != nil {
		return nil, err
	}

	active := make(map[string]types.Row)
	for _, r := range trips.Rows {
		if svc, _ := value.String(r["service_id"]); services[svc] {
			id, _ := value.String(r["trip_id"])
			active[id] = r
		}
	}
	routeByID := index(routes, "route_id")
	stopByID := index(stops, "stop_id")

	day := ServiceDate(date)
	dayStart := serviceDayStart(date, loc)
	serviceDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	now := b.now().UTC()

	out := types.NewTable(
		"service_date", "service_id", "route_id", "route_short_name", "route_type",
		"trip_id", "direction_id", "trip_headsign", "shape_id",
		"stop_id", "stop_sequence", "stop_code", "stop_name", "stop_lat", "stop_lon",
		"stop_headsign", "shape_dist_traveled",
		"scheduled_arrival_time", "scheduled_departure_time",
		"scheduled_arrival", "scheduled_departure",
		"scheduled_arrival_s", "scheduled_departure_s",
		"service_date_dt", "feed_hash", "created_at", "updated_at",
	)
	for _, st := range stopTimes.Rows {
		tripID, _ := value.String(st["trip_id"])
		trip, ok := active[tripID]
		if !ok {
			continue
		}
		routeID, _ := value.String(trip["route_id"])
		stopID, _ := value.String(st["stop_id"])
		route, stop := routeByID[routeID], stopByID[stopID]

		row := types.Row{
			"service_date":             day,
			"service_id":               trip["service_id"],
			"route_id":                 trip["route_id"],
			"route_short_name":         route["route_short_name"],
			"route_type":               route["route_type"],
			"trip_id":                  trip["trip_id"],
			"direction_id":             trip["direction_id"],
			"trip_headsign":            trip["trip_headsign"],
			"shape_id":                 trip["shape_id"],
			"stop_id":                  st["stop_id"],
			"stop_sequence":            st["stop_sequence"],
			"stop_code":                stop["stop_code"],
			"stop_name":                stop["stop_name"],
			"stop_lat":                 stop["stop_lat"],
			"stop_lon":                 stop["stop_lon"],
			"stop_headsign":            st["stop_headsign"],
			"shape_dist_traveled":      st["shape_dist_traveled"],
			"scheduled_arrival_time":   st["arrival_time"],
			"scheduled_departure_time": st["departure_time"],
			"service_date_dt":          serviceDay,
			"feed_hash":                hash,
			"created_at":               now,
			"updated_at":               now,
		}
		scheduleInstant(row, "scheduled_arrival", st["arrival_time"], dayStart)
		scheduleInstant(row, "scheduled_departure", st["departure_time"], dayStart)
		out.Rows = append(out.Rows, row)
	}

	sort.SliceStable(out.Rows, func(i, j int) bool {
		ti, _ := value.String(out.Rows[i]["trip_id"])
		tj, _ := value.String(out.Rows[j]["trip_id"])
		if ti != tj {
			return ti < tj
		}
		si, _ := value.Int(out.Rows[i]["stop_sequence"])
		sj, _ := value.Int(out.Rows[j]["stop_sequence"])
		return si < sj
	})
	return out, nil
}

// scheduleInstant sets col and col_s from a GTFS clock time. Blank or
// malformed times leave both null.
func scheduleInstant(row types.Row, col string, clock any, dayStart time.Time) {
	s, ok := value.String(clock)
	if !ok {
		return
	}
	offset, ok := ClockOffset(s)
	if !ok {
		return
	}
	at := dayStart.Add(offset).UTC()
	row[col] = at
	row[col+"_s"] = at.Unix()
}

func index(t *types.Table, column string) map[string]types.Row {
	out := make(map[string]types.Row, t.Len())
	for _, r := range t.Rows {
		if id, ok := value.String(r[column]); ok {
			out[id] = r
		}
	}
	return out
}
