package cursor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lherron/hlmigrate/internal/source"
)

// ErrWatermarkRegressed means the source returned a row whose leading order
// value is lower than one already delivered. The source is not ordered the
// way the pager assumes and continuing could skip records.
var ErrWatermarkRegressed = errors.New("cursor watermark regressed")

// Querier is the subset of *source.DB a pager needs.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) ([]source.Record, error)
	Dialect() source.Dialect
}

// Mode selects how pages are addressed.
type Mode int

const (
	// Offset pages with LIMIT/OFFSET (or OFFSET/FETCH) over a stable order.
	Offset Mode = iota
	// Keyset pages with a WHERE predicate on the last delivered row.
	Keyset
)

// Spec describes one paged legacy query.
type Spec struct {
	Family string
	// Select is a complete SELECT without ORDER BY. It is wrapped in a
	// derived table so Order can reference its column aliases.
	Select string
	Args   []any
	// Order lists result columns; the last one must be unique.
	Order    []string
	Mode     Mode
	PageSize int
}

// Pager walks a Spec page by page. It is not safe for concurrent use.
type Pager struct {
	q    Querier
	spec Spec

	cur  *Cursor
	page int
	done bool

	lead    any
	hasLead bool
}

// New validates the spec and returns a pager positioned at the start.
func New(q Querier, spec Spec) (*Pager, error) {
	if strings.TrimSpace(spec.Select) == "" {
		return nil, fmt.Errorf("cursor %s: select required", spec.Family)
	}
	if len(spec.Order) == 0 {
		return nil, fmt.Errorf("cursor %s: order columns required", spec.Family)
	}
	if spec.PageSize <= 0 {
		return nil, fmt.Errorf("cursor %s: page size must be positive", spec.Family)
	}
	return &Pager{q: q, spec: spec}, nil
}

// Resume positions the pager after a previously emitted token.
func (p *Pager) Resume(token string) error {
	c, err := Decode(token)
	if err != nil {
		return err
	}
	if c.Family != "" && c.Family != p.spec.Family {
		return fmt.Errorf("cursor token is for %s, not %s", c.Family, p.spec.Family)
	}
	if p.spec.Mode == Keyset && c.LastID == "" {
		return fmt.Errorf("cursor token has no keyset position")
	}
	p.cur = c
	return nil
}

// Token returns the resume token for the current position, or "" at start.
func (p *Pager) Token() (string, error) {
	if p.cur == nil {
		return "", nil
	}
	c := *p.cur
	c.Family = p.spec.Family
	return c.Encode()
}

// Page is the number of pages delivered so far.
func (p *Pager) Page() int { return p.page }

// Done reports whether an empty page has been seen.
func (p *Pager) Done() bool { return p.done }

// Next fetches the next page. An empty result ends the walk.
func (p *Pager) Next(ctx context.Context) ([]source.Record, error) {
	if p.done {
		return nil, nil
	}

	query, args, err := p.build()
	if err != nil {
		return nil, err
	}

	recs, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cursor %s page %d: %w", p.spec.Family, p.page+1, err)
	}
	if len(recs) == 0 {
		p.done = true
		return nil, nil
	}
	if err := recs[0].Require(p.spec.Order...); err != nil {
		return nil, fmt.Errorf("cursor %s: %w", p.spec.Family, err)
	}
	if err := p.checkWatermark(recs); err != nil {
		return nil, err
	}

	p.page++
	if err := p.advance(recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Each calls fn for every non-empty page until the source is exhausted.
func (p *Pager) Each(ctx context.Context, fn func(recs []source.Record) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		recs, err := p.Next(ctx)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		if err := fn(recs); err != nil {
			return err
		}
	}
}

func (p *Pager) build() (string, []any, error) {
	d := p.q.Dialect()
	args := append([]any(nil), p.spec.Args...)
	base := "SELECT * FROM (" + p.spec.Select + ") src"
	orderBy := " ORDER BY " + strings.Join(p.spec.Order, ", ")

	if p.spec.Mode == Offset {
		offset := 0
		if p.cur != nil {
			offset = p.cur.Offset
		}
		return d.Paginate(base+orderBy, p.spec.PageSize, offset), args, nil
	}

	if p.cur != nil {
		where, params, err := p.cur.BuildWhereClause(p.idField())
		if err != nil {
			return "", nil, err
		}
		base += " WHERE " + where
		args = append(args, params...)
	}
	return d.Paginate(base+orderBy, p.spec.PageSize, 0), args, nil
}

func (p *Pager) idField() string {
	return p.spec.Order[len(p.spec.Order)-1]
}

func (p *Pager) advance(recs []source.Record) error {
	last := recs[len(recs)-1]

	if p.spec.Mode == Offset {
		offset := 0
		if p.cur != nil {
			offset = p.cur.Offset
		}
		p.cur = &Cursor{Offset: offset + len(recs)}
		return nil
	}

	d := p.q.Dialect()
	sortFields := p.spec.Order[:len(p.spec.Order)-1]
	values := make([]interface{}, len(sortFields))
	for i, f := range sortFields {
		v, _ := last.Value(f)
		values[i] = d.BindValue(v)
	}
	lastID := last.Key(p.idField())
	if lastID == "" {
		return fmt.Errorf("cursor %s: empty key in %s", p.spec.Family, p.idField())
	}
	if p.cur != nil && p.cur.LastID == lastID {
		return fmt.Errorf("cursor %s: no progress past key %s", p.spec.Family, lastID)
	}

	c, err := NewCursor(sortFields, values, lastID)
	if err != nil {
		return err
	}
	p.cur = c
	return nil
}

// checkWatermark enforces a non-decreasing leading order column across every
// row delivered so far. Only keyset pagers with a separate leading column are
// checked.
func (p *Pager) checkWatermark(recs []source.Record) error {
	if p.spec.Mode != Keyset || len(p.spec.Order) < 2 {
		return nil
	}
	col := p.spec.Order[0]
	for _, r := range recs {
		v, _ := r.Value(col)
		if v == nil {
			continue
		}
		if p.hasLead {
			if cmp, ok := compareValues(v, p.lead); ok && cmp < 0 {
				return fmt.Errorf("%w: %s %s=%v after %v (key %s)",
					ErrWatermarkRegressed, p.spec.Family, col, v, p.lead, r.Key(p.idField()))
			}
		}
		p.lead = v
		p.hasLead = true
	}
	return nil
}

// compareValues orders two driver values of the same kind. ok is false when
// the kinds differ.
func compareValues(a, b any) (int, bool) {
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case int64:
		y, ok := b.(int64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case []byte:
		y, ok := b.([]byte)
		if !ok {
			return 0, false
		}
		return bytes.Compare(x, y), true
	}
	return 0, false
}
