package sqlxrepos

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
)

// marshalJSONB encodes v for storage in a jsonb column.
func marshalJSONB(v interface{}) (types.JSONText, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling jsonb")
	}
	return types.JSONText(data), nil
}

// unmarshalJSONB decodes a jsonb column into dst, tolerating empty columns.
func unmarshalJSONB(src types.JSONText, dst interface{}) error {
	if len(src) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(src, dst), "unmarshaling jsonb")
}

// queryBuilder accumulates WHERE clauses and positional args for dynamic queries.
type queryBuilder struct {
	clauses []string
	args    []interface{}
}

// add appends a clause, rewriting each "?" into the next positional argument.
func (qb *queryBuilder) add(clause string, args ...interface{}) {
	for _, arg := range args {
		qb.args = append(qb.args, arg)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(qb.args)), 1)
	}
	qb.clauses = append(qb.clauses, clause)
}

func (qb *queryBuilder) where() string {
	if len(qb.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(qb.clauses, " AND ")
}
