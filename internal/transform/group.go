package transform

import (
	"strings"

	"github.com/srg-rm/rm-copilot/pkg/schema"
)

// Group is every record observed for one entity, in input order.
type Group struct {
	ID      string
	Records []schema.Record
}

// EntityID resolves a record's entity key from "id", then "listing_id",
// falling back to schema.UnknownEntity.
func EntityID(rec schema.Record) string {
	for _, field := range []string{schema.FieldID, schema.FieldListingID} {
		if s, ok := asString(rec[field]); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return schema.UnknownEntity
}

// GroupByEntity splits records by entity id. Groups come back in order of
// first appearance and each keeps its records' relative order. Duplicates
// are kept.
func GroupByEntity(records []schema.Record) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, rec := range records {
		id := EntityID(rec)
		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, Group{ID: id})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	return groups
}
