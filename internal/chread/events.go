package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse filter_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the filter_events table.
type EventRow struct {
	RequestID       string
	MessageID       string
	Timestamp       time.Time
	ChannelKind     string
	IdentityHash    string
	IsAgentResponse uint8
	ContentPreview  string
	ContentHash     string
	ContentSize     uint32
	Priority        string
	Admitted        uint8
	Deferred        uint8
	Rationale       string
	TriggeredRules  []string
	TrustScore      float64
	LatencyMs       float32
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	Priority     *string
	IdentityHash *string
	RuleID       *string
	ChannelKind  *string
	Deferred     *bool
	StartTime    *time.Time
	EndTime      *time.Time
	Page         int
	PageSize     int
}

const selectEventColumns = "request_id, message_id, timestamp, channel_kind, " +
	"identity_hash, is_agent_response, " +
	"content_preview, content_hash, content_size, " +
	"priority, admitted, deferred, rationale, " +
	"triggered_rules, trust_score, latency_ms"

func scanEvent(row interface{ Scan(...any) error }, e *EventRow) error {
	return row.Scan(
		&e.RequestID, &e.MessageID, &e.Timestamp, &e.ChannelKind,
		&e.IdentityHash, &e.IsAgentResponse,
		&e.ContentPreview, &e.ContentHash, &e.ContentSize,
		&e.Priority, &e.Admitted, &e.Deferred, &e.Rationale,
		&e.TriggeredRules, &e.TrustScore, &e.LatencyMs,
	)
}

// ListEvents returns paginated, filtered filter events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	conditions := []string{"1 = 1"}
	var args []any

	if params.Priority != nil {
		conditions = append(conditions, "priority = @priority")
		args = append(args, clickhouse.Named("priority", *params.Priority))
	}
	if params.IdentityHash != nil {
		conditions = append(conditions, "identity_hash = @identity_hash")
		args = append(args, clickhouse.Named("identity_hash", *params.IdentityHash))
	}
	if params.RuleID != nil {
		conditions = append(conditions, "has(triggered_rules, @rule_id)")
		args = append(args, clickhouse.Named("rule_id", *params.RuleID))
	}
	if params.ChannelKind != nil {
		conditions = append(conditions, "channel_kind = @channel_kind")
		args = append(args, clickhouse.Named("channel_kind", *params.ChannelKind))
	}
	if params.Deferred != nil {
		var v uint8
		if *params.Deferred {
			v = 1
		}
		conditions = append(conditions, "deferred = @deferred")
		args = append(args, clickhouse.Named("deferred", v))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	offset := (params.Page - 1) * params.PageSize

	// Count query
	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM filter_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	// Data query
	dataQuery := fmt.Sprintf(
		"SELECT "+selectEventColumns+" FROM filter_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := scanEvent(rows, &e); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// GetEvent returns a single event by request ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, requestID string) (*EventRow, error) {
	row := r.conn.QueryRow(ctx,
		"SELECT "+selectEventColumns+" FROM filter_events "+
			"WHERE request_id = @request_id",
		clickhouse.Named("request_id", requestID),
	)

	var e EventRow
	if err := scanEvent(row, &e); err != nil {
		// ClickHouse doesn't return sql.ErrNoRows, so check for empty result
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	if e.RequestID == "" {
		return nil, nil
	}
	return &e, nil
}

// SummaryStats holds aggregate admission counts.
type SummaryStats struct {
	TotalMessages int `json:"total_messages"`
	Critical      int `json:"critical"`
	High          int `json:"high"`
	Medium        int `json:"medium"`
	Low           int `json:"low"`
	Deferred      int `json:"deferred"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// RuleCount holds a rule id and its trigger count.
type RuleCount struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// IdentityCount holds an identity hash and its count.
type IdentityCount struct {
	IdentityHash string `json:"identity_hash"`
	Count        int    `json:"count"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary            SummaryStats       `json:"summary"`
	CriticalOverTime   []TimeSeriesBucket `json:"critical_over_time"`
	TopRules           []RuleCount        `json:"top_rules"`
	LatencyPercentiles LatencyStats       `json:"latency_percentiles"`
	TopFlaggedSenders  []IdentityCount    `json:"top_flagged_senders"`
}

// GetAnalytics returns aggregated filter analytics over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	// Summary counts
	var total, critical, high, medium, low, deferred uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total, "+
			"countIf(priority = 'critical') as critical, "+
			"countIf(priority = 'high') as high, "+
			"countIf(priority = 'medium') as medium, "+
			"countIf(priority = 'low') as low, "+
			"countIf(deferred = 1) as deferred "+
			"FROM filter_events "+
			"WHERE timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &critical, &high, &medium, &low, &deferred)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalMessages: int(total),
		Critical:      int(critical),
		High:          int(high),
		Medium:        int(medium),
		Low:           int(low),
		Deferred:      int(deferred),
	}

	// Critical messages over time (hourly)
	cotRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM filter_events "+
			"WHERE priority = 'critical' AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics critical_over_time: %w", err)
	}
	defer func() { _ = cotRows.Close() }()
	for cotRows.Next() {
		var hour time.Time
		var count uint64
		if err := cotRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics critical_over_time scan: %w", err)
		}
		result.CriticalOverTime = append(result.CriticalOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	// Most-triggered rules
	ruleRows, err := r.conn.Query(ctx,
		"SELECT arrayJoin(triggered_rules) as rule_id, count() as count "+
			"FROM filter_events "+
			"WHERE timestamp >= @range_start "+
			"GROUP BY rule_id ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_rules: %w", err)
	}
	defer func() { _ = ruleRows.Close() }()
	for ruleRows.Next() {
		var id string
		var count uint64
		if err := ruleRows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_rules scan: %w", err)
		}
		result.TopRules = append(result.TopRules, RuleCount{RuleID: id, Count: int(count)})
	}

	// Latency percentiles (last 24h)
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms) as p50, "+
			"quantile(0.95)(latency_ms) as p95, "+
			"quantile(0.99)(latency_ms) as p99 "+
			"FROM filter_events "+
			"WHERE timestamp >= @day_start",
		clickhouse.Named("day_start", dayStart),
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	// Senders most often escalated
	idRows, err := r.conn.Query(ctx,
		"SELECT identity_hash, count() as count "+
			"FROM filter_events "+
			"WHERE priority IN ('critical', 'high') "+
			"AND identity_hash != '' AND timestamp >= @range_start "+
			"GROUP BY identity_hash ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_senders: %w", err)
	}
	defer func() { _ = idRows.Close() }()
	for idRows.Next() {
		var hash string
		var count uint64
		if err := idRows.Scan(&hash, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_senders scan: %w", err)
		}
		result.TopFlaggedSenders = append(result.TopFlaggedSenders, IdentityCount{
			IdentityHash: hash, Count: int(count),
		})
	}

	// Ensure slices are non-nil for JSON serialization
	if result.CriticalOverTime == nil {
		result.CriticalOverTime = []TimeSeriesBucket{}
	}
	if result.TopRules == nil {
		result.TopRules = []RuleCount{}
	}
	if result.TopFlaggedSenders == nil {
		result.TopFlaggedSenders = []IdentityCount{}
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
