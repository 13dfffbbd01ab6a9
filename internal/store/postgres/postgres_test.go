package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/evalab/resona/internal/fault"
	"github.com/evalab/resona/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers — mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// assign copies a test value into a scan destination, covering the pointer
// shapes the store scans into.
func assign(dest, val any) error {
	switch d := dest.(type) {
	case *string:
		*d = val.(string)
	case **string:
		if val == nil {
			*d = nil
		} else {
			s := val.(string)
			*d = &s
		}
	case *[]byte:
		*d = val.([]byte)
	case *bool:
		*d = val.(bool)
	case *int:
		*d = val.(int)
	case *float64:
		*d = val.(float64)
	case **float64:
		if val == nil {
			*d = nil
		} else {
			f := val.(float64)
			*d = &f
		}
	case *time.Time:
		*d = val.(time.Time)
	case **time.Time:
		if val == nil {
			*d = nil
		} else {
			t := val.(time.Time)
			*d = &t
		}
	default:
		return fmt.Errorf("assign: unsupported destination type %T", dest)
	}
	return nil
}

func scanInto(values []any) func(dest ...any) error {
	return func(dest ...any) error {
		if len(dest) != len(values) {
			return fmt.Errorf("scan: expected %d columns, got %d destinations", len(values), len(dest))
		}
		for i, v := range values {
			if err := assign(dest[i], v); err != nil {
				return err
			}
		}
		return nil
	}
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	begun      int
	committed  int
	rolledBack int
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return nil, errors.New("query not mocked")
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *mockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	m.begun++
	return &mockTx{db: m}, nil
}

// mockTx implements pgx.Tx, delegating statements to the parent mockDB.
type mockTx struct {
	db     *mockDB
	closed bool
}

func (t *mockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested transactions not supported")
}

func (t *mockTx) Commit(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.db.committed++
	return nil
}

func (t *mockTx) Rollback(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.db.rolledBack++
	return nil
}

func (t *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}

func (t *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *mockTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }

func (t *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}

func (t *mockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *mockTx) Conn() *pgx.Conn { return nil }

// shardRowValues builds the column values scanShard expects.
func shardRowValues(analysis map[string]any) []any {
	analysisJSON, _ := json.Marshal(analysis)
	return []any{
		"sh-1", "ep-1", 0.0, 4.5, "local",
		[]byte("{}"), []byte("{}"), analysisJSON,
		store.StateDraft, false, nil, nil, time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestMigrateExecutesSchema(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			return pgconn.CommandTag{}, nil
		},
	}
	if err := New(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	for _, table := range []string{"episodes", "shards", "feed_entries", "profiles", "invitations"} {
		if !strings.Contains(gotSQL, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("schema missing table %q", table)
		}
	}
}

func TestGetShardNotFound(t *testing.T) {
	t.Parallel()

	s := New(&mockDB{})
	_, err := s.GetShard(context.Background(), "missing")
	if fault.CodeOf(err) != fault.CodeShardNotFound {
		t.Fatalf("expected shard_not_found, got %v", err)
	}
}

func TestGetEpisodeNotFound(t *testing.T) {
	t.Parallel()

	s := New(&mockDB{})
	_, err := s.GetEpisode(context.Background(), "missing")
	if fault.CodeOf(err) != fault.CodeEpisodeNotFound {
		t.Fatalf("expected episode_not_found, got %v", err)
	}
}

func TestUpsertEpisodeUsesOnConflict(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			return pgconn.CommandTag{}, nil
		},
	}
	if err := New(db).UpsertEpisode(context.Background(), "ep-1"); err != nil {
		t.Fatalf("UpsertEpisode: %v", err)
	}
	if !strings.Contains(gotSQL, "ON CONFLICT (id) DO NOTHING") {
		t.Errorf("upsert not conflict-safe: %s", gotSQL)
	}
}

func TestUpsertFeedEntryUsesOnConflict(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			return pgconn.CommandTag{}, nil
		},
	}
	err := New(db).UpsertFeedEntry(context.Background(), store.FeedEntry{
		ID: "fe-1", ShardID: "sh-1", ProfileID: "local_profile_1",
		PublishedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertFeedEntry: %v", err)
	}
	if !strings.Contains(gotSQL, "ON CONFLICT (profile_id, shard_id) DO NOTHING") {
		t.Errorf("feed upsert not idempotent: %s", gotSQL)
	}
}

func TestUpdateShardLocksRowAndCommits(t *testing.T) {
	t.Parallel()

	var (
		selectSQL string
		updateSQL string
		updateArg []byte
	)
	db := &mockDB{}
	db.queryRowFunc = func(ctx context.Context, sql string, args ...any) pgx.Row {
		selectSQL = sql
		return &mockRow{scanFunc: scanInto(shardRowValues(map[string]any{"transcription": "hola"}))}
	}
	db.execFunc = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		updateSQL = sql
		updateArg = args[7].([]byte) // analysis document
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}

	s := New(db)
	sh, err := s.UpdateShard(context.Background(), "sh-1", func(sh *store.Shard) error {
		sh.Analysis["user"] = map[string]any{"status": "reviewed"}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateShard: %v", err)
	}
	if !strings.Contains(selectSQL, "FOR UPDATE") {
		t.Errorf("shard select does not lock the row: %s", selectSQL)
	}
	if !strings.Contains(updateSQL, "UPDATE shards SET") {
		t.Errorf("unexpected update statement: %s", updateSQL)
	}
	if db.committed != 1 {
		t.Errorf("expected 1 commit, got %d", db.committed)
	}

	var persisted map[string]any
	if err := json.Unmarshal(updateArg, &persisted); err != nil {
		t.Fatalf("persisted analysis not JSON: %v", err)
	}
	if persisted["transcription"] != "hola" {
		t.Errorf("existing analysis key lost: %v", persisted)
	}
	if sh.Analysis["transcription"] != "hola" {
		t.Errorf("returned shard missing existing key: %v", sh.Analysis)
	}
}

func TestUpdateShardMutateErrorRollsBack(t *testing.T) {
	t.Parallel()

	var updates int
	db := &mockDB{}
	db.queryRowFunc = func(ctx context.Context, sql string, args ...any) pgx.Row {
		return &mockRow{scanFunc: scanInto(shardRowValues(nil))}
	}
	db.execFunc = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		updates++
		return pgconn.CommandTag{}, nil
	}

	boom := errors.New("boom")
	_, err := New(db).UpdateShard(context.Background(), "sh-1", func(*store.Shard) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutate error back unwrapped, got %v", err)
	}
	if updates != 0 {
		t.Errorf("aborted mutation still issued %d updates", updates)
	}
	if db.rolledBack != 1 || db.committed != 0 {
		t.Errorf("expected rollback without commit, got rollbacks=%d commits=%d", db.rolledBack, db.committed)
	}
}

func TestUpdateShardNotFound(t *testing.T) {
	t.Parallel()

	_, err := New(&mockDB{}).UpdateShard(context.Background(), "missing",
		func(*store.Shard) error { return nil })
	if fault.CodeOf(err) != fault.CodeShardNotFound {
		t.Fatalf("expected shard_not_found, got %v", err)
	}
}

func TestUpdateShardRetriesDeadlock(t *testing.T) {
	t.Parallel()

	attempts := 0
	db := &mockDB{}
	db.queryRowFunc = func(ctx context.Context, sql string, args ...any) pgx.Row {
		attempts++
		if attempts == 1 {
			return &mockRow{scanFunc: func(dest ...any) error {
				return &pgconn.PgError{Code: "40P01"}
			}}
		}
		return &mockRow{scanFunc: scanInto(shardRowValues(nil))}
	}
	db.execFunc = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}

	if _, err := New(db).UpdateShard(context.Background(), "sh-1",
		func(*store.Shard) error { return nil }); err != nil {
		t.Fatalf("UpdateShard after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestCreateInvitationQuotaExhausted(t *testing.T) {
	t.Parallel()

	var inserts int
	db := &mockDB{}
	db.queryRowFunc = func(ctx context.Context, sql string, args ...any) pgx.Row {
		return &mockRow{scanFunc: scanInto([]any{3, 3})}
	}
	db.execFunc = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		inserts++
		return pgconn.CommandTag{}, nil
	}

	_, err := New(db).CreateInvitation(context.Background(), "local_profile_1", "friend@example.com")
	if !fault.IsClass(err, fault.PreconditionFailed) {
		t.Fatalf("expected precondition_failed, got %v", err)
	}
	if fault.CodeOf(err) != fault.CodeNoInvitationsLeft {
		t.Errorf("expected no_invitations_remaining, got %q", fault.CodeOf(err))
	}
	if inserts != 0 {
		t.Errorf("exhausted quota still issued %d statements", inserts)
	}
	if db.rolledBack != 1 {
		t.Errorf("expected rollback, got %d", db.rolledBack)
	}
}

func TestCreateInvitationSpendsQuota(t *testing.T) {
	t.Parallel()

	var statements []string
	db := &mockDB{}
	db.queryRowFunc = func(ctx context.Context, sql string, args ...any) pgx.Row {
		if !strings.Contains(sql, "FOR UPDATE") {
			return &mockRow{scanFunc: func(dest ...any) error {
				return fmt.Errorf("quota select missing row lock: %s", sql)
			}}
		}
		return &mockRow{scanFunc: scanInto([]any{3, 1})}
	}
	db.execFunc = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		statements = append(statements, sql)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}

	inv, err := New(db).CreateInvitation(context.Background(), "local_profile_1", "friend@example.com")
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	if inv.State != store.InvitationPending {
		t.Errorf("new invitation state = %q", inv.State)
	}
	if inv.ID == "" || inv.Code == "" {
		t.Error("invitation missing id or code")
	}
	if len(statements) != 2 {
		t.Fatalf("expected insert plus counter update, got %d statements", len(statements))
	}
	if !strings.Contains(statements[1], "invitations_used = invitations_used + 1") {
		t.Errorf("counter not incremented: %s", statements[1])
	}
	if db.committed != 1 {
		t.Errorf("expected 1 commit, got %d", db.committed)
	}
}

func TestTouchProfileNotFound(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	err := New(db).TouchProfile(context.Background(), "missing")
	if fault.CodeOf(err) != fault.CodeProfileNotFound {
		t.Fatalf("expected profile_not_found, got %v", err)
	}
}

func TestMergeUserFieldsGoesThroughUpdateShard(t *testing.T) {
	t.Parallel()

	var updateArg []byte
	db := &mockDB{}
	db.queryRowFunc = func(ctx context.Context, sql string, args ...any) pgx.Row {
		return &mockRow{scanFunc: scanInto(shardRowValues(map[string]any{"emotion": "alegria"}))}
	}
	db.execFunc = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		updateArg = args[7].([]byte)
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}

	sh, err := New(db).MergeUserFields(context.Background(), "sh-1", map[string]any{
		"status":  "reviewed",
		"ignored": nil,
	})
	if err != nil {
		t.Fatalf("MergeUserFields: %v", err)
	}

	var persisted map[string]any
	if err := json.Unmarshal(updateArg, &persisted); err != nil {
		t.Fatalf("persisted analysis not JSON: %v", err)
	}
	user, ok := persisted["user"].(map[string]any)
	if !ok || user["status"] != "reviewed" {
		t.Errorf("user block not merged: %v", persisted)
	}
	if _, present := user["ignored"]; present {
		t.Error("nil patch value must be ignored")
	}
	if persisted["emotion"] != "alegria" {
		t.Errorf("pipeline key lost: %v", persisted)
	}
	if sh.Analysis["emotion"] != "alegria" {
		t.Errorf("returned shard missing pipeline key: %v", sh.Analysis)
	}
}
