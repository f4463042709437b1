package dialplan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultContext is the context local phones dial from.
const DefaultContext = "pjsip_internal"

// ErrInvalidPriority is returned for priorities below 1.
var ErrInvalidPriority = errors.New("dialplan: priority must be positive")

// Querier is satisfied by *sql.DB and *sql.Tx. Pass a transaction to make
// Store and Delete part of a larger unit of work.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Entry is one priority of a dialplan.
type Entry struct {
	Priority int
	App      Application
}

// Dialplan is the ordered list of applications for one (exten, context).
// Persisting always deletes every row for the pair and rewrites it.
type Dialplan struct {
	Exten   string
	Context string
	Entries map[int]Application
}

// New returns an empty dialplan. An empty context selects DefaultContext.
func New(exten, context string) *Dialplan {
	if context == "" {
		context = DefaultContext
	}
	return &Dialplan{Exten: exten, Context: context, Entries: make(map[int]Application)}
}

// Load reads every row for (exten, context).
func Load(ctx context.Context, q Querier, exten, context string) (*Dialplan, error) {
	d := New(exten, context)
	if err := d.load(ctx, q); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dialplan) load(ctx context.Context, q Querier) error {
	rows, err := q.QueryContext(ctx,
		`SELECT priority, app, appdata FROM extensions WHERE exten = $1 AND context = $2`,
		d.Exten, d.Context,
	)
	if err != nil {
		return fmt.Errorf("querying dialplan %s@%s: %w", d.Exten, d.Context, err)
	}
	defer rows.Close()

	entries := make(map[int]Application)
	for rows.Next() {
		var (
			prio         int
			app, appdata sql.NullString
		)
		if err := rows.Scan(&prio, &app, &appdata); err != nil {
			return fmt.Errorf("scanning dialplan entry: %w", err)
		}
		a, err := Parse(app.String, appdata.String)
		if err != nil {
			return fmt.Errorf("parsing %s@%s priority %d: %w", d.Exten, d.Context, prio, err)
		}
		entries[prio] = a
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating dialplan entries: %w", err)
	}
	d.Entries = entries
	return nil
}

// Add appends app after the highest priority and returns the priority
// it was stored at.
func (d *Dialplan) Add(app Application) int {
	prio := 0
	for p := range d.Entries {
		if p > prio {
			prio = p
		}
	}
	prio++
	d.Entries[prio] = app
	return prio
}

// AddAt stores app at prio, replacing any existing entry.
func (d *Dialplan) AddAt(prio int, app Application) error {
	if prio < 1 {
		return ErrInvalidPriority
	}
	d.Entries[prio] = app
	return nil
}

// Remove drops the entry at prio. Absent priorities are ignored.
func (d *Dialplan) Remove(prio int) {
	delete(d.Entries, prio)
}

// Len returns the number of entries.
func (d *Dialplan) Len() int { return len(d.Entries) }

// OrderedEntries returns the entries sorted by ascending priority.
func (d *Dialplan) OrderedEntries() []Entry {
	out := make([]Entry, 0, len(d.Entries))
	for p, a := range d.Entries {
		out = append(out, Entry{Priority: p, App: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Delete removes every persisted row for (exten, context).
func (d *Dialplan) Delete(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM extensions WHERE exten = $1 AND context = $2`,
		d.Exten, d.Context,
	); err != nil {
		return fmt.Errorf("deleting dialplan %s@%s: %w", d.Exten, d.Context, err)
	}
	return nil
}

// Store replaces the persisted rows with the in-memory entries and reloads
// them, so d reflects exactly what the store holds afterwards.
func (d *Dialplan) Store(ctx context.Context, q Querier) error {
	if err := d.Delete(ctx, q); err != nil {
		return err
	}
	for _, e := range d.OrderedEntries() {
		app, appdata := e.App.Assemble()
		if _, err := q.ExecContext(ctx,
			`INSERT INTO extensions (context, exten, priority, app, appdata) VALUES ($1, $2, $3, $4, $5)`,
			d.Context, d.Exten, e.Priority, app, appdata,
		); err != nil {
			return fmt.Errorf("inserting dialplan %s@%s priority %d: %w", d.Exten, d.Context, e.Priority, err)
		}
	}
	return d.load(ctx, q)
}

// String renders the dialplan in extensions.conf syntax.
func (d *Dialplan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n", d.Context)
	for _, e := range d.OrderedEntries() {
		app, appdata := e.App.Assemble()
		fmt.Fprintf(&b, "exten => %s,%d,%s(%s)\n", d.Exten, e.Priority, app, appdata)
	}
	return b.String()
}
