package repository

import (
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Query filters a listing. Text matches the collection's name fields.
type Query struct {
	Text  string
	Limit int64
	Skip  int64
}

var searchFields = map[string][]string{
	CollectionCompanies:  {"profile_meta.company_name", "profile_meta.industry"},
	CollectionCandidates: {"profile_meta.candidate_name", "profile_meta.primary_role", "profile_meta.target_role"},
	CollectionCultureFit: {"_meta.company_name", "_meta.developer_name"},
}

func (q Query) bounds() (int64, int64) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	skip := q.Skip
	if skip < 0 {
		skip = 0
	}
	return limit, skip
}

func (q Query) filter(collection string) bson.M {
	text := strings.TrimSpace(q.Text)
	fields := searchFields[collection]
	if text == "" || len(fields) == 0 {
		return bson.M{}
	}

	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(text), Options: "i"}
	or := make(bson.A, 0, len(fields))
	for _, field := range fields {
		or = append(or, bson.M{field: pattern})
	}
	return bson.M{"$or": or}
}

// Normalize converts driver types into plain JSON-friendly values: ObjectIDs
// become hex strings and BSON dates become time.Time.
func Normalize(doc bson.M) map[string]any {
	out, _ := normalizeValue(doc).(map[string]any)
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}
