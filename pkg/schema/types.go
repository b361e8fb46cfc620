package schema

import (
	"github.com/apache/arrow/go/v17/arrow"
)

// Record is one raw listing observation as returned by the Wheelhouse API.
// It only lives at the fetch boundary; transform converts it into the
// canonical columnar layout.
type Record map[string]interface{}

// DayLayout is the zero-padded ISO day used in partition filenames.
const DayLayout = "2006-01-02"

// UnknownEntity is the entity id used when a record carries no identifier.
const UnknownEntity = "unknown"

// DefaultSource is the value stamped into the etl_source column.
const DefaultSource = "wheelhouse_api"

// Canonical column names.
const (
	ColListingID          = "listing_id"
	ColTitle              = "title"
	ColPrice              = "price"
	ColLocation           = "location"
	ColBedrooms           = "bedrooms"
	ColBathrooms          = "bathrooms"
	ColPropertyType       = "property_type"
	ColListingDate        = "listing_date"
	ColLastUpdated        = "last_updated"
	ColAmenities          = "amenities"
	ColDescription        = "description"
	ColHostID             = "host_id"
	ColAvailability       = "availability"
	ColMinimumStay        = "minimum_stay"
	ColMaximumStay        = "maximum_stay"
	ColInstantBook        = "instant_book"
	ColCancellationPolicy = "cancellation_policy"
	ColReviewScore        = "review_score"
	ColReviewCount        = "review_count"
	ColLatitude           = "latitude"
	ColLongitude          = "longitude"

	ColProcessedAt = "etl_processed_at"
	ColSource      = "etl_source"
)

// Raw API field names used to resolve the entity key.
const (
	FieldID        = "id"
	FieldListingID = "listing_id"
)

// Kind is the logical type of a canonical column.
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindInt
	KindBool
	KindTimestamp
	KindStringList
)

// Column describes one canonical column.
type Column struct {
	Name string
	Kind Kind
}

// Rename maps a raw source field onto its canonical column.
type Rename struct {
	From string
	To   string
}

// SourceRenames lists the raw field names that are renamed on ingest.
var SourceRenames = []Rename{
	{From: "id", To: ColListingID},
	{From: "name", To: ColTitle},
	{From: "price_per_night", To: ColPrice},
	{From: "address", To: ColLocation},
	{From: "room_type", To: ColPropertyType},
	{From: "created_at", To: ColListingDate},
	{From: "updated_at", To: ColLastUpdated},
}

// RequiredColumns must be present after renaming; missing ones are
// synthesized as nulls.
var RequiredColumns = []string{ColListingID, ColTitle, ColPrice}

// CanonicalColumns is the fixed listing layout, in file order.
var CanonicalColumns = []Column{
	{Name: ColListingID, Kind: KindString},
	{Name: ColTitle, Kind: KindString},
	{Name: ColPrice, Kind: KindFloat},
	{Name: ColLocation, Kind: KindString},
	{Name: ColBedrooms, Kind: KindInt},
	{Name: ColBathrooms, Kind: KindFloat},
	{Name: ColPropertyType, Kind: KindString},
	{Name: ColListingDate, Kind: KindTimestamp},
	{Name: ColLastUpdated, Kind: KindTimestamp},
	{Name: ColAmenities, Kind: KindStringList},
	{Name: ColDescription, Kind: KindString},
	{Name: ColHostID, Kind: KindString},
	{Name: ColAvailability, Kind: KindString},
	{Name: ColMinimumStay, Kind: KindInt},
	{Name: ColMaximumStay, Kind: KindInt},
	{Name: ColInstantBook, Kind: KindBool},
	{Name: ColCancellationPolicy, Kind: KindString},
	{Name: ColReviewScore, Kind: KindFloat},
	{Name: ColReviewCount, Kind: KindInt},
	{Name: ColLatitude, Kind: KindFloat},
	{Name: ColLongitude, Kind: KindFloat},
}

// MetadataColumns are appended to every partition by the ETL.
var MetadataColumns = []Column{
	{Name: ColProcessedAt, Kind: KindTimestamp},
	{Name: ColSource, Kind: KindString},
}

var canonicalIndex = func() map[string]Kind {
	m := make(map[string]Kind, len(CanonicalColumns)+len(MetadataColumns))
	for _, c := range CanonicalColumns {
		m[c.Name] = c.Kind
	}
	for _, c := range MetadataColumns {
		m[c.Name] = c.Kind
	}
	return m
}()

// IsCanonical reports whether name is a canonical or metadata column.
func IsCanonical(name string) bool {
	_, ok := canonicalIndex[name]
	return ok
}

// ColumnNames returns canonical plus metadata column names in file order.
func ColumnNames() []string {
	names := make([]string, 0, len(CanonicalColumns)+len(MetadataColumns))
	for _, c := range CanonicalColumns {
		names = append(names, c.Name)
	}
	for _, c := range MetadataColumns {
		names = append(names, c.Name)
	}
	return names
}

// ArrowType returns the Arrow type used to store a column kind.
func ArrowType(kind Kind) arrow.DataType {
	switch kind {
	case KindFloat:
		return arrow.PrimitiveTypes.Float64
	case KindInt:
		return arrow.PrimitiveTypes.Int64
	case KindBool:
		return arrow.FixedWidthTypes.Boolean
	case KindTimestamp:
		return arrow.FixedWidthTypes.Timestamp_us
	case KindStringList:
		return arrow.ListOf(arrow.BinaryTypes.String)
	default:
		return arrow.BinaryTypes.String
	}
}

// GetListingSchema returns the Arrow schema for a listing partition. Extra
// fields are pass-through source columns and sit between the canonical and
// metadata columns.
func GetListingSchema(extra []arrow.Field, md *arrow.Metadata) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(CanonicalColumns)+len(extra)+len(MetadataColumns))
	for _, c := range CanonicalColumns {
		fields = append(fields, arrow.Field{Name: c.Name, Type: ArrowType(c.Kind), Nullable: true})
	}
	fields = append(fields, extra...)
	for _, c := range MetadataColumns {
		fields = append(fields, arrow.Field{Name: c.Name, Type: ArrowType(c.Kind), Nullable: false})
	}
	return arrow.NewSchema(fields, md)
}
