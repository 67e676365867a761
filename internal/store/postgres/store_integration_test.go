package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/store"
)

// withTestSchema runs fn inside a transaction scoped to a fresh schema that
// has every up migration applied. The schema is dropped afterwards.
func withTestSchema(t *testing.T, fn func(ctx context.Context, tx bun.Tx) error) {
	t.Helper()

	databaseURL := strings.TrimSpace(os.Getenv("GROUPBOOK_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("GROUPBOOK_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := Open(ctx, databaseURL, PoolConfig{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "groupbook_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema + ", public").Exec(ctx); err != nil {
			return err
		}
		if err := applyMigrations(ctx, tx); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
	require.NoError(t, err)
}

func TestPostgresIntegration_AudienceTreeAndMembership(t *testing.T) {
	withTestSchema(t, func(ctx context.Context, tx bun.Tx) error {
		s := NewStore(tx)

		rootID, err := s.InsertAudience(ctx, domain.Audience{Name: "School", Color: "#111111", Status: domain.AudienceStatusActive, CreatedBy: 9})
		if err != nil {
			return err
		}
		childID, err := s.InsertAudience(ctx, domain.Audience{Name: "Grade 5", Color: "#222222", Status: domain.AudienceStatusActive, ParentID: &rootID})
		if err != nil {
			return err
		}

		got, err := s.GetAudience(ctx, childID)
		if err != nil {
			return err
		}
		if got.ParentID == nil || *got.ParentID != rootID || got.Name != "Grade 5" {
			return fmt.Errorf("child = %+v", got)
		}
		if got.CreatedAt.IsZero() {
			return errors.New("created_at not set")
		}

		if _, err := s.GetAudience(ctx, childID+100); !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("missing audience err = %v, want ErrNotFound", err)
		}

		roots, err := s.ListAudiences(ctx, store.AudienceFilter{RootOnly: true})
		if err != nil {
			return err
		}
		if len(roots) != 1 || roots[0].ID != rootID {
			return fmt.Errorf("roots = %+v", roots)
		}

		found, err := s.SearchAudiences(ctx, "grade", 10)
		if err != nil {
			return err
		}
		if len(found) != 1 || found[0].ID != childID {
			return fmt.Errorf("search = %+v", found)
		}

		name := "Grade Five"
		n, err := s.UpdateAudience(ctx, childID, store.AudiencePatch{Name: &name})
		if err != nil || n != 1 {
			return fmt.Errorf("update n=%d err=%v", n, err)
		}
		if _, err := s.UpdateAudience(ctx, childID, store.AudiencePatch{}); !errors.Is(err, store.ErrNoChanges) {
			return fmt.Errorf("empty patch err = %v", err)
		}

		if n, err := s.SetChildrenSelfJoin(ctx, rootID, true); err != nil || n != 1 {
			return fmt.Errorf("self join n=%d err=%v", n, err)
		}

		if _, err := s.InsertMember(ctx, childID, 10); err != nil {
			return err
		}
		if _, err := s.InsertMember(ctx, childID, 10); !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("duplicate member err = %v, want ErrConflict", err)
		}
		if _, err := s.InsertMember(ctx, rootID, 10); err != nil {
			return err
		}
		if _, err := s.InsertMember(ctx, rootID, 20); err != nil {
			return err
		}

		ids, err := s.MemberUserIDs(ctx, []int64{rootID, childID})
		if err != nil {
			return err
		}
		if fmt.Sprint(ids) != "[10 20]" {
			return fmt.Errorf("member ids = %v", ids)
		}
		count, err := s.CountMembers(ctx, []int64{rootID, childID})
		if err != nil || count != 2 {
			return fmt.Errorf("count=%d err=%v", count, err)
		}

		of, err := s.AudiencesOfUser(ctx, 10)
		if err != nil {
			return err
		}
		if len(of) != 2 {
			return fmt.Errorf("audiences of user = %+v", of)
		}

		if n, err := s.DeleteMember(ctx, childID, 99); err != nil || n != 0 {
			return fmt.Errorf("delete missing member n=%d err=%v", n, err)
		}
		return nil
	})
}

func TestPostgresIntegration_FieldsAndValues(t *testing.T) {
	withTestSchema(t, func(ctx context.Context, tx bun.Tx) error {
		s := NewStore(tx)

		aid, err := s.InsertAudience(ctx, domain.Audience{Name: "A", Color: "#000000", Status: domain.AudienceStatusActive})
		if err != nil {
			return err
		}
		for i, key := range []string{"b", "a"} {
			_, err := s.InsertField(ctx, domain.CustomField{
				AudienceID: aid, FieldKey: key, FieldLabel: key, FieldType: domain.FieldTypeText,
				SortOrder: i, IsActive: key == "b",
			})
			if err != nil {
				return err
			}
		}
		if _, err := s.InsertField(ctx, domain.CustomField{AudienceID: aid, FieldKey: "a", FieldLabel: "dup", FieldType: domain.FieldTypeText}); !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("duplicate key err = %v", err)
		}

		all, err := s.FieldsOf(ctx, aid, false)
		if err != nil {
			return err
		}
		if len(all) != 2 || all[0].FieldKey != "b" {
			return fmt.Errorf("fields = %+v", all)
		}
		active, err := s.FieldsOf(ctx, aid, true)
		if err != nil {
			return err
		}
		if len(active) != 1 {
			return fmt.Errorf("active fields = %+v", active)
		}

		if err := s.MergeUserFieldValue(ctx, 5, "school", "North"); err != nil {
			return err
		}
		if err := s.MergeUserFieldValue(ctx, 5, "grade", 5); err != nil {
			return err
		}
		vals, err := s.UserFieldValues(ctx, 5)
		if err != nil {
			return err
		}
		if vals["school"] != "North" || vals["grade"] != float64(5) {
			return fmt.Errorf("values = %v", vals)
		}
		empty, err := s.UserFieldValues(ctx, 6)
		if err != nil || len(empty) != 0 {
			return fmt.Errorf("empty values = %v err=%v", empty, err)
		}
		return nil
	})
}

func TestPostgresIntegration_BookingsConflictsAndTargets(t *testing.T) {
	withTestSchema(t, func(ctx context.Context, tx bun.Tx) error {
		s := NewStore(tx)

		audA, err := s.InsertAudience(ctx, domain.Audience{Name: "A", Color: "#000000", Status: domain.AudienceStatusActive})
		if err != nil {
			return err
		}
		audB, err := s.InsertAudience(ctx, domain.Audience{Name: "B", Color: "#000000", Status: domain.AudienceStatusActive})
		if err != nil {
			return err
		}

		id, err := s.InsertBooking(ctx, domain.Booking{
			ResourceID: 1, Title: "Lab", Date: "2026-03-02", StartTime: "09:00:00", EndTime: "10:00:00",
			Status: domain.BookingStatusActive,
		})
		if err != nil {
			return err
		}
		if err := s.InsertBookingAudiences(ctx, id, []int64{audA, audB}); err != nil {
			return err
		}
		if err := s.InsertBookingUsers(ctx, id, []int64{30}); err != nil {
			return err
		}

		for _, tc := range []struct {
			window domain.Interval
			want   int
		}{
			{domain.Interval{Start: "09:30:00", End: "10:00:00"}, 1},
			{domain.Interval{Start: "10:00:00", End: "11:00:00"}, 0},
			{domain.Interval{Start: "08:00:00", End: "09:00:00"}, 0},
		} {
			w := tc.window
			for _, lock := range []bool{false, true} {
				rows, err := s.ActiveBookings(ctx, store.BookingQuery{ResourceID: 1, Date: "2026-03-02", Window: &w, ForUpdate: lock})
				if err != nil {
					return err
				}
				if len(rows) != tc.want {
					return fmt.Errorf("window %v lock=%v: got %d rows, want %d", w, lock, len(rows), tc.want)
				}
			}
		}

		rows, err := s.ActiveBookings(ctx, store.BookingQuery{ResourceID: 1, Date: "2026-03-02", ExcludeBookingID: id})
		if err != nil || len(rows) != 0 {
			return fmt.Errorf("excluded rows=%d err=%v", len(rows), err)
		}

		for _, lock := range []bool{false, true} {
			n, err := s.CountActiveAtSlot(ctx, 1, "2026-03-02", "09:00:00", lock)
			if err != nil || n != 1 {
				return fmt.Errorf("slot count lock=%v n=%d err=%v", lock, n, err)
			}
		}

		same, err := s.ActiveBookingsForAudiences(ctx, "2026-03-02", []int64{audB, audB + 1000}, 0)
		if err != nil {
			return err
		}
		if len(same) != 1 || fmt.Sprint(same[0].AudienceIDs) != fmt.Sprint([]int64{audA, audB}) || fmt.Sprint(same[0].UserIDs) != "[30]" {
			return fmt.Errorf("same-day = %+v", same)
		}

		targeted, err := s.BookingsForTargets(ctx, 30, nil)
		if err != nil || len(targeted) != 1 {
			return fmt.Errorf("targets rows=%d err=%v", len(targeted), err)
		}

		if n, err := s.CancelBooking(ctx, id, 4); err != nil || n != 1 {
			return fmt.Errorf("cancel n=%d err=%v", n, err)
		}
		if n, err := s.CancelBooking(ctx, id, 4); err != nil || n != 0 {
			return fmt.Errorf("second cancel n=%d err=%v", n, err)
		}
		n, err := s.CountActiveAtSlot(ctx, 1, "2026-03-02", "09:00:00", false)
		if err != nil || n != 0 {
			return fmt.Errorf("slot count after cancel n=%d err=%v", n, err)
		}

		if _, err := s.DeleteAudience(ctx, audA); err != nil {
			return err
		}
		if n, err := s.DeleteBookingAudiences(ctx, id); err != nil || n != 1 {
			return fmt.Errorf("delete audiences after audience delete n=%d err=%v", n, err)
		}
		if _, err := tx.NewRaw("SAVEPOINT unknown_audience").Exec(ctx); err != nil {
			return err
		}
		if err := s.InsertBookingAudiences(ctx, id, []int64{audB + 1000}); !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("unknown audience err=%v, want ErrNotFound", err)
		}
		if _, err := tx.NewRaw("ROLLBACK TO SAVEPOINT unknown_audience").Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}

func TestPostgresIntegration_AppointmentCreateOverlapAndIdempotency(t *testing.T) {
	withTestSchema(t, func(ctx context.Context, tx bun.Tx) error {
		start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
		end := start.Add(time.Hour)

		a1, err := createAppointment(ctx, tx, domain.Appointment{
			ID:        uuid.MustParse("00000000-0000-0000-0000-000000000901"),
			UserID:    1,
			Title:     "t",
			StartTime: start,
			EndTime:   end,
		})
		if err != nil {
			return err
		}
		if a1.Status != domain.AppointmentStatusPending {
			return fmt.Errorf("status = %q, want pending", a1.Status)
		}

		_, err = createAppointment(ctx, tx, domain.Appointment{
			ID:        uuid.MustParse("00000000-0000-0000-0000-000000000902"),
			UserID:    1,
			Title:     "t2",
			StartTime: start.Add(30 * time.Minute),
			EndTime:   end.Add(30 * time.Minute),
		})
		if !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("overlap err = %v, want %v", err, store.ErrConflict)
		}

		if _, err := createAppointment(ctx, tx, domain.Appointment{
			ID: uuid.MustParse("00000000-0000-0000-0000-000000000903"), UserID: 1, Title: "t3",
			StartTime: end, EndTime: end.Add(time.Hour),
		}); err != nil {
			return err
		}

		replayed, err := createAppointment(ctx, tx, domain.Appointment{ID: a1.ID, UserID: 1, Title: "t", StartTime: start, EndTime: end})
		if err != nil {
			return err
		}
		if replayed.ID != a1.ID {
			return fmt.Errorf("replayed id = %s, want %s", replayed.ID, a1.ID)
		}

		_, err = createAppointment(ctx, tx, domain.Appointment{ID: a1.ID, UserID: 1, Title: "different", StartTime: start, EndTime: end})
		if !errors.Is(err, store.ErrIdempotencyConflict) {
			return fmt.Errorf("idempotency err = %v, want %v", err, store.ErrIdempotencyConflict)
		}
		return nil
	})
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

// applyMigrations runs the embedded up migrations statement by statement in
// the caller's search_path.
func applyMigrations(ctx context.Context, exec rawExecutor) error {
	names, err := fs.Glob(migrationFiles, "migrations/*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := fs.ReadFile(migrationFiles, name)
		if err != nil {
			return err
		}
		for _, stmt := range splitSQLStatements(string(b)) {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
