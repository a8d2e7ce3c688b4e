package profile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/MrEthical07/goSession/daytime"
	"github.com/redis/go-redis/v9"
)

// batchScheduleAttempts bounds how often BatchUpdateSchedules rereads the
// schedule index after a concurrent change.
const batchScheduleAttempts = 3

// Store implements the profile document store on Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for notification failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns a Store that namespaces its keys under prefix.
func NewStore(rdb redis.UniversalClient, prefix string, opts ...Option) *Store {
	if prefix == "" {
		prefix = "gs"
	}
	s := &Store{
		rdb:    rdb,
		prefix: prefix,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) docKey(uid string) string {
	return s.prefix + ":profile:{" + uid + "}"
}

func (s *Store) eventsKey(uid string) string {
	return s.prefix + ":profile-events:{" + uid + "}"
}

func (s *Store) scheduleIndexKey(uid string) string {
	return s.prefix + ":schedules:{" + uid + "}"
}

func (s *Store) scheduleKeyPrefix(uid string) string {
	return s.prefix + ":schedule:{" + uid + "}:"
}

// GetDocument reads the document for uid. A missing document is not an
// error; the snapshot reports Exists=false.
func (s *Store) GetDocument(ctx context.Context, uid string) (Snapshot, error) {
	if uid == "" {
		return Snapshot{}, ErrInvalidFields
	}
	values, err := s.rdb.HGetAll(ctx, s.docKey(uid)).Result()
	if err != nil {
		return Snapshot{ID: uid}, fmt.Errorf("get profile %s: %w", uid, err)
	}
	if len(values) == 0 {
		return Snapshot{ID: uid}, nil
	}
	return Snapshot{ID: uid, Exists: true, Fields: Fields(values)}, nil
}

// SetDocument replaces the whole document with fields.
func (s *Store) SetDocument(ctx context.Context, uid string, fields Fields) error {
	args, err := pairs(fields)
	if err != nil {
		return err
	}
	if err := replaceLua.Run(ctx, s.rdb, []string{s.docKey(uid)}, args...).Err(); err != nil {
		return fmt.Errorf("set profile %s: %w", uid, err)
	}
	s.notify(ctx, uid, "set")
	return nil
}

// CreateDocumentIfAbsent creates the document with fields and a server
// assigned createdAt unless one already exists. It reports whether the
// document was created.
func (s *Store) CreateDocumentIfAbsent(ctx context.Context, uid string, fields Fields) (bool, error) {
	if uid == "" {
		return false, ErrInvalidFields
	}
	var args []any
	if len(fields) > 0 {
		var err error
		if args, err = pairs(fields); err != nil {
			return false, err
		}
	}
	created, err := createIfAbsentLua.Run(ctx, s.rdb, []string{s.docKey(uid)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("create profile %s: %w", uid, err)
	}
	if created == 1 {
		s.notify(ctx, uid, "create")
	}
	return created == 1, nil
}

// UpdateDocument merges fields into an existing document. It returns
// ErrNotFound when the document is missing.
func (s *Store) UpdateDocument(ctx context.Context, uid string, fields Fields) error {
	args, err := pairs(fields)
	if err != nil {
		return err
	}
	ok, err := updateIfExistsLua.Run(ctx, s.rdb, []string{s.docKey(uid)}, args...).Int()
	if err != nil {
		return fmt.Errorf("update profile %s: %w", uid, err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	s.notify(ctx, uid, "update")
	return nil
}

// IncrementFields adds the integer deltas to counters of an existing
// document.
func (s *Store) IncrementFields(ctx context.Context, uid string, deltas map[string]int64) error {
	if uid == "" || len(deltas) == 0 {
		return ErrInvalidFields
	}
	names := make([]string, 0, len(deltas))
	for name := range deltas {
		if name == "" {
			return ErrInvalidFields
		}
		names = append(names, name)
	}
	sort.Strings(names)
	args := make([]any, 0, 2*len(names))
	for _, name := range names {
		args = append(args, name, strconv.FormatInt(deltas[name], 10))
	}

	ok, err := incrementLua.Run(ctx, s.rdb, []string{s.docKey(uid)}, args...).Int()
	if err != nil {
		return fmt.Errorf("increment profile %s: %w", uid, err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	s.notify(ctx, uid, "update")
	return nil
}

// DeleteDocument removes the document and every schedule of uid. Deleting a
// missing document is not an error.
func (s *Store) DeleteDocument(ctx context.Context, uid string) error {
	if uid == "" {
		return ErrInvalidFields
	}
	index := s.scheduleIndexKey(uid)
	dates, err := s.rdb.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", uid, err)
	}

	keys := make([]string, 0, len(dates)+2)
	keys = append(keys, s.docKey(uid), index)
	for _, date := range dates {
		keys = append(keys, s.scheduleKeyPrefix(uid)+date)
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete profile %s: %w", uid, err)
	}
	s.notify(ctx, uid, "delete")
	return nil
}

// SubscribeDocument streams snapshots of the document for uid: one right
// after the subscription is confirmed, then one after each change
// notification. Read failures are delivered as snapshots with Err set. The
// channel closes when ctx is done.
func (s *Store) SubscribeDocument(ctx context.Context, uid string) (<-chan Snapshot, error) {
	if uid == "" {
		return nil, ErrInvalidFields
	}
	pubsub := s.rdb.Subscribe(ctx, s.eventsKey(uid))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe profile %s: %w", uid, err)
	}

	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		emit := func() bool {
			snap, err := s.GetDocument(ctx, uid)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				snap = Snapshot{ID: uid, Err: err}
			}
			select {
			case out <- snap:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			}
		}
	}()
	return out, nil
}

// PutSchedule writes one day schedule and indexes its date.
func (s *Store) PutSchedule(ctx context.Context, uid string, schedule DaySchedule) error {
	if uid == "" {
		return ErrInvalidFields
	}
	score, err := daytime.DateScore(schedule.Date)
	if err != nil {
		return err
	}
	if !schedule.WakeTime.Valid() || !schedule.SleepTime.Valid() {
		return daytime.ErrInvalidTimeOfDay
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.scheduleKeyPrefix(uid)+schedule.Date,
			FieldWakeTime, schedule.WakeTime.String(),
			FieldSleepTime, schedule.SleepTime.String())
		pipe.ZAdd(ctx, s.scheduleIndexKey(uid), redis.Z{Score: float64(score), Member: schedule.Date})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put schedule %s/%s: %w", uid, schedule.Date, err)
	}
	return nil
}

// GetSchedule reads the schedule for one date. It returns ErrNotFound when no
// schedule exists for that date.
func (s *Store) GetSchedule(ctx context.Context, uid, date string) (DaySchedule, error) {
	values, err := s.rdb.HGetAll(ctx, s.scheduleKeyPrefix(uid)+date).Result()
	if err != nil {
		return DaySchedule{}, fmt.Errorf("get schedule %s/%s: %w", uid, date, err)
	}
	if len(values) == 0 {
		return DaySchedule{}, ErrNotFound
	}
	return decodeSchedule(date, values)
}

// ListSchedules returns every schedule of uid ordered by date.
func (s *Store) ListSchedules(ctx context.Context, uid string) ([]DaySchedule, error) {
	dates, err := s.rdb.ZRange(ctx, s.scheduleIndexKey(uid), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list schedules %s: %w", uid, err)
	}
	if len(dates) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(dates))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, date := range dates {
			cmds[i] = pipe.HGetAll(ctx, s.scheduleKeyPrefix(uid)+date)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list schedules %s: %w", uid, err)
	}

	out := make([]DaySchedule, 0, len(dates))
	for i, date := range dates {
		values := cmds[i].Val()
		if len(values) == 0 {
			continue
		}
		sched, err := decodeSchedule(date, values)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, nil
}

// BatchUpdateSchedules sets wake and sleep time on every schedule of uid
// dated fromDate or later, atomically. Earlier schedules are untouched. It
// returns the number of schedules rewritten.
func (s *Store) BatchUpdateSchedules(ctx context.Context, uid, fromDate string, wake, sleep daytime.TimeOfDay) (int, error) {
	if uid == "" {
		return 0, ErrInvalidFields
	}
	if !wake.Valid() || !sleep.Valid() {
		return 0, daytime.ErrInvalidTimeOfDay
	}
	minScore, err := daytime.DateScore(fromDate)
	if err != nil {
		return 0, err
	}

	indexKey := s.scheduleIndexKey(uid)
	prefix := s.scheduleKeyPrefix(uid)
	from := strconv.FormatInt(minScore, 10)
	for attempt := 0; attempt < batchScheduleAttempts; attempt++ {
		dates, err := s.rdb.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{Min: from, Max: "+inf"}).Result()
		if err != nil {
			return 0, fmt.Errorf("batch update schedules %s: %w", uid, err)
		}
		keys := make([]string, 0, len(dates)+1)
		keys = append(keys, indexKey)
		for _, date := range dates {
			keys = append(keys, prefix+date)
		}

		n, err := batchSchedulesLua.Run(ctx, s.rdb, keys, from, prefix, wake.String(), sleep.String()).Int()
		if err != nil {
			return 0, fmt.Errorf("batch update schedules %s: %w", uid, err)
		}
		if n >= 0 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("batch update schedules %s: %w", uid, ErrScheduleIndexChanged)
}

func (s *Store) notify(ctx context.Context, uid, kind string) {
	if err := s.rdb.Publish(ctx, s.eventsKey(uid), kind).Err(); err != nil {
		s.logger.Warn("profile change notification failed",
			slog.String("uid", uid),
			slog.String("kind", kind),
			slog.Any("error", err),
		)
	}
}

func pairs(fields Fields) ([]any, error) {
	if len(fields) == 0 {
		return nil, ErrInvalidFields
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		if name == "" {
			return nil, ErrInvalidFields
		}
		names = append(names, name)
	}
	sort.Strings(names)
	args := make([]any, 0, 2*len(names))
	for _, name := range names {
		args = append(args, name, fields[name])
	}
	return args, nil
}

func decodeSchedule(date string, values map[string]string) (DaySchedule, error) {
	wake, err := daytime.Parse(values[FieldWakeTime])
	if err != nil {
		return DaySchedule{}, fmt.Errorf("schedule %s wake time: %w", date, err)
	}
	sleep, err := daytime.Parse(values[FieldSleepTime])
	if err != nil {
		return DaySchedule{}, fmt.Errorf("schedule %s sleep time: %w", date, err)
	}
	return DaySchedule{Date: date, WakeTime: wake, SleepTime: sleep}, nil
}
