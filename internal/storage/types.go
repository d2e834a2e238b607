package storage

import (
	"fmt"
	"time"
)

// TimeLayout is the storage form of timestamps: fixed-width UTC with
// nanosecond precision. The fixed fractional width keeps lexicographic
// ordering identical to chronological ordering, which range queries rely on.
const TimeLayout = "2006-01-02 15:04:05.000000000"

// FormatTime renders a timestamp in storage form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp in storage form.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// Order controls the direction of range query results.
type Order string

const (
	// FirstToLast returns rows in ascending timestamp order.
	FirstToLast Order = "FIRST_TO_LAST"
	// LastToFirst returns rows in descending timestamp order.
	LastToFirst Order = "LAST_TO_FIRST"
)

// Valid reports whether the order flag is one of the two known values.
func (o Order) Valid() bool {
	return o == FirstToLast || o == LastToFirst
}

// Point is one (timestamp, value) pair returned by a range query.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     any       `json:"value"`
}

// QueryOptions narrows a range query.
//
// Start is inclusive and End is exclusive; zero values mean unbounded.
// Count limits rows per topic (0 = unlimited) and Skip offsets into each
// topic's result independently. AggType/AggPeriod select a per-period
// aggregate table instead of the raw data table.
type QueryOptions struct {
	Start     time.Time
	End       time.Time
	AggType   string
	AggPeriod string
	Skip      int
	Count     int
	Order     Order
}

// AggTopicKey identifies an aggregate topic: the triple of normalized topic
// name (or pattern), aggregation type, and aggregation period.
type AggTopicKey struct {
	Name      string
	AggType   string
	AggPeriod string
}

// AggTopic describes one configured aggregate topic.
type AggTopic struct {
	ID            int64
	Name          string
	AggType       string
	AggPeriod     string
	TopicsPattern string
}

// TableNames holds the physical table names for one deployment, after any
// prefix has been applied. When Topics == Meta the backend stores topic
// metadata in a column of the topics table instead of a separate table.
type TableNames struct {
	Data      string
	Topics    string
	Meta      string
	AggTopics string
	AggMeta   string
}

// Default base names, matching the historical layout.
const (
	DefaultDataTable   = "data"
	DefaultTopicsTable = "topics"
	DefaultMetaTable   = "meta"
)

// NewTableNames builds the full table set from the configured base names.
// Empty base names fall back to the defaults. The prefix, when present, is
// applied to every table including the aggregate catalog tables.
func NewTableNames(prefix, data, topics, meta string) TableNames {
	if data == "" {
		data = DefaultDataTable
	}
	if topics == "" {
		topics = DefaultTopicsTable
	}
	if meta == "" {
		meta = DefaultMetaTable
	}
	t := TableNames{
		Data:      data,
		Topics:    topics,
		Meta:      meta,
		AggTopics: "agg_topics",
		AggMeta:   "agg_meta",
	}
	if prefix != "" {
		t.Data = prefix + "_" + t.Data
		t.Topics = prefix + "_" + t.Topics
		t.Meta = prefix + "_" + t.Meta
		t.AggTopics = prefix + "_" + t.AggTopics
		t.AggMeta = prefix + "_" + t.AggMeta
	}
	return t
}

// Colocated reports whether topics and metadata share one physical table.
func (t TableNames) Colocated() bool {
	return t.Topics == t.Meta
}

// AggregateTable returns the deterministic name of the storage for one
// (aggregation type, period) pair.
func AggregateTable(aggType, period string) string {
	return aggType + "_" + period
}
