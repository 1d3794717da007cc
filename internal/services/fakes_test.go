package services

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campusloop/campusloop/internal/models"
)

type fakeCommandTag struct {
	rows int64
}

func (t fakeCommandTag) RowsAffected() int64 { return t.rows }

// scanInto assigns value to the pointer dest, wrapping non-pointer values
// into pointer destinations the way pgx does for nullable columns.
func scanInto(dest, value any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("scan destination must be a non-nil pointer, got %T", dest)
	}
	ev := dv.Elem()
	if value == nil {
		ev.Set(reflect.Zero(ev.Type()))
		return nil
	}
	vv := reflect.ValueOf(value)
	switch {
	case vv.Type().AssignableTo(ev.Type()):
		ev.Set(vv)
	case ev.Kind() == reflect.Ptr && vv.Type().AssignableTo(ev.Type().Elem()):
		p := reflect.New(ev.Type().Elem())
		p.Elem().Set(vv)
		ev.Set(p)
	case vv.Type().ConvertibleTo(ev.Type()):
		ev.Set(vv.Convert(ev.Type()))
	default:
		return fmt.Errorf("cannot scan %T into %T", value, dest)
	}
	return nil
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: have %d values, got %d destinations", len(r.values), len(dest))
	}
	for i, d := range dest {
		if err := scanInto(d, r.values[i]); err != nil {
			return err
		}
	}
	return nil
}

func rowFromValues(values ...any) fakeRow {
	return fakeRow{values: values}
}

func errRow(err error) fakeRow {
	return fakeRow{err: err}
}

func noRow() fakeRow {
	return fakeRow{err: pgx.ErrNoRows}
}

type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.idx < len(r.rows) {
		r.idx++
		return true
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error {
	return fakeRow{values: r.rows[r.idx-1]}.Scan(dest...)
}

func (r *fakeRows) Close() {}

func (r *fakeRows) Err() error { return r.err }

// fakeDB serves scripted results. QueryRow pops rowQueue in call order
// unless queryRowFunc is set; every statement text is recorded for
// assertions.
type fakeDB struct {
	queryFunc    func(ctx context.Context, sql string, args ...any) (Rows, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) Row
	execFunc     func(ctx context.Context, sql string, args ...any) (CommandTag, error)

	rowQueue []Row
	queries  []string
	args     [][]any
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	db.queries = append(db.queries, sql)
	db.args = append(db.args, args)
	if db.queryFunc != nil {
		return db.queryFunc(ctx, sql, args...)
	}
	return &fakeRows{}, nil
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) Row {
	db.queries = append(db.queries, sql)
	db.args = append(db.args, args)
	if db.queryRowFunc != nil {
		return db.queryRowFunc(ctx, sql, args...)
	}
	if len(db.rowQueue) > 0 {
		row := db.rowQueue[0]
		db.rowQueue = db.rowQueue[1:]
		return row
	}
	return noRow()
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	db.queries = append(db.queries, sql)
	db.args = append(db.args, args)
	if db.execFunc != nil {
		return db.execFunc(ctx, sql, args...)
	}
	return fakeCommandTag{rows: 1}, nil
}

type feedEvent struct {
	topic string
	ref   string
}

type fakeFeed struct {
	events []feedEvent
	err    error
}

func (f *fakeFeed) Publish(ctx context.Context, topic, ref string) error {
	f.events = append(f.events, feedEvent{topic: topic, ref: ref})
	return f.err
}

type notifyCall struct {
	recipientID uuid.UUID
	actorID     uuid.UUID
	relatedID   uuid.UUID
	nType       models.NotificationType
}

type fakeNotifier struct {
	calls []notifyCall
	err   error
}

func (n *fakeNotifier) NotifyMentorship(ctx context.Context, recipientID, actorID, requestID uuid.UUID, nType models.NotificationType) error {
	n.calls = append(n.calls, notifyCall{recipientID: recipientID, actorID: actorID, relatedID: requestID, nType: nType})
	return n.err
}

func (n *fakeNotifier) NotifyConnection(ctx context.Context, recipientID, actorID, connectionID uuid.UUID, nType models.NotificationType) error {
	n.calls = append(n.calls, notifyCall{recipientID: recipientID, actorID: actorID, relatedID: connectionID, nType: nType})
	return n.err
}

type fakeCache struct {
	data   map[string]string
	getErr error
	setErr error
	sets   []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string)}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, error) {
	if c.getErr != nil {
		return "", c.getErr
	}
	val, ok := c.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return val, nil
}

func (c *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	c.sets = append(c.sets, key)
	return nil
}

func (c *fakeCache) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func mentorshipValues(req *models.MentorshipRequest) []any {
	return []any{
		req.ID, req.MenteeID, req.MentorID, req.Topic, req.Message,
		string(req.Status), req.SuggestedMentorID, req.MenteeFeedback,
		req.AutoExpired, req.CreatedAt, req.UpdatedAt,
	}
}

func connectionValues(c *models.Connection) []any {
	return []any{c.ID, c.RequesterID, c.ReceiverID, string(c.Status), c.CreatedAt, c.UpdatedAt}
}

func userValues(u *models.User) []any {
	return []any{
		u.ID, u.Email, u.PasswordHash, u.DisplayName, string(u.Role),
		u.Domain, u.EmailVerified, u.CreatedAt, u.UpdatedAt,
	}
}
