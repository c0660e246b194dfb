package validators

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
)

// Query reads typed query parameters and collects every problem, so one
// response names all bad fields. Details use the same field -> message shape
// as body validation.
type Query struct {
	values url.Values
	errs   map[string]string
}

func NewQuery(r *http.Request) *Query {
	return &Query{values: r.URL.Query()}
}

func (q *Query) fail(key, msg string) {
	if q.errs == nil {
		q.errs = map[string]string{}
	}
	q.errs[key] = msg
}

func (q *Query) String(key string) string {
	return strings.TrimSpace(q.values.Get(key))
}

// Int returns def when the key is absent. Present values must lie in [min, max].
func (q *Query) Int(key string, def, min, max int) int {
	raw := q.String(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		q.fail(key, "must be numeric")
		return def
	}
	if v < min || v > max {
		q.fail(key, fmt.Sprintf("must be between %d and %d", min, max))
		return def
	}
	return v
}

// Time parses an optional RFC 3339 timestamp into UTC.
func (q *Query) Time(key string) time.Time {
	raw := q.String(key)
	if raw == "" {
		return time.Time{}
	}
	v, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		q.fail(key, "must be an RFC 3339 timestamp")
		return time.Time{}
	}
	return v.UTC()
}

// List splits a comma separated parameter, dropping blanks.
func (q *Query) List(key string) []string {
	var out []string
	for _, part := range strings.Split(q.String(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Check records msg against key when ok is false; for rules spanning fields.
func (q *Query) Check(ok bool, key, msg string) {
	if !ok {
		q.fail(key, msg)
	}
}

func (q *Query) Err() error {
	if len(q.errs) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameters").WithDetails(q.errs)
}
