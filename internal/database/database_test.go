package database

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linyvhuo/webot/internal/events"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history", "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabaseInitialization(t *testing.T) {
	db := openTestDB(t)

	version, err := db.Version()
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if version != LatestVersion() {
		t.Errorf("Expected version %d, got %d", LatestVersion(), version)
	}

	if _, err := os.Stat(db.Path()); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	// Reopening must not re-run migrations
	path := db.Path()
	db.Close()
	again, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer again.Close()
	if v, _ := again.Version(); v != LatestVersion() {
		t.Errorf("Expected version %d after reopen, got %d", LatestVersion(), v)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)

	err := db.StartSession(Session{
		ID:           "s-1",
		TargetTitle:  "Chat",
		QuestionMode: "cycle",
		InputMethod:  "paste",
		TotalRounds:  3,
	})
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	for i, status := range []string{RoundOK, RoundTimeout, RoundOK} {
		r := Round{SessionID: "s-1", Round: i + 1, Question: "q", Status: status, DurationMs: int64(100 * (i + 1))}
		if status == RoundTimeout {
			msg := "answer never stabilized"
			r.ErrorMessage = &msg
		}
		if err := db.RecordRound(r); err != nil {
			t.Fatalf("Failed to record round %d: %v", i+1, err)
		}
	}

	if err := db.FinishSession("s-1", SessionCompleted, 3, ""); err != nil {
		t.Fatalf("Failed to finish session: %v", err)
	}

	s, err := db.GetSession("s-1")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if s.Status != SessionCompleted || s.CompletedRounds != 3 || s.TotalRounds != 3 {
		t.Errorf("Unexpected session: %+v", s)
	}
	if s.FinishedAt == nil || s.DurationMs == nil {
		t.Error("Finished session should have finish time and duration")
	}
	if s.ErrorMessage != nil {
		t.Errorf("Expected no error message, got %q", *s.ErrorMessage)
	}

	rounds, err := db.SessionRounds("s-1")
	if err != nil {
		t.Fatalf("Failed to get rounds: %v", err)
	}
	if len(rounds) != 3 {
		t.Fatalf("Expected 3 rounds, got %d", len(rounds))
	}
	if rounds[1].ErrorMessage == nil || rounds[1].Status != RoundTimeout {
		t.Errorf("Round 2 should be a timeout with a message, got %+v", rounds[1])
	}

	stats, err := db.GetSessionStats("s-1")
	if err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if stats.Rounds != 3 || stats.OK != 2 || stats.Timeouts != 1 || stats.SubmitFailed != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.AvgDurationMs != 200 {
		t.Errorf("Expected average 200ms, got %v", stats.AvgDurationMs)
	}
}

func TestRecordRoundReplaces(t *testing.T) {
	db := openTestDB(t)
	if err := db.StartSession(Session{ID: "s", TargetTitle: "t", QuestionMode: "cycle", InputMethod: "keyboard", TotalRounds: 1}); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	db.RecordRound(Round{SessionID: "s", Round: 1, Question: "a", Status: RoundSubmitFailed})
	if err := db.RecordRound(Round{SessionID: "s", Round: 1, Question: "a", Status: RoundOK}); err != nil {
		t.Fatalf("Failed to re-record round: %v", err)
	}

	rounds, _ := db.SessionRounds("s")
	if len(rounds) != 1 || rounds[0].Status != RoundOK {
		t.Errorf("Expected one ok round, got %+v", rounds)
	}
}

func TestRoundRequiresSession(t *testing.T) {
	db := openTestDB(t)
	if err := db.RecordRound(Round{SessionID: "missing", Round: 1, Question: "q", Status: RoundOK}); err == nil {
		t.Error("Expected foreign key violation for unknown session")
	}
}

func TestFinishUnknownSession(t *testing.T) {
	db := openTestDB(t)
	if err := db.FinishSession("nope", SessionFailed, 0, "boom"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if _, err := db.GetSession("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestRecentSessionsAndPrune(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().Add(-72 * time.Hour)

	for i, id := range []string{"old", "mid", "new"} {
		err := db.StartSession(Session{
			ID: id, TargetTitle: "Chat", QuestionMode: "random", InputMethod: "paste",
			TotalRounds: 1, StartedAt: base.Add(time.Duration(i) * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("Failed to start session %s: %v", id, err)
		}
	}
	db.RecordRound(Round{SessionID: "old", Round: 1, Question: "q", Status: RoundOK})

	recent, err := db.RecentSessions(2)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "new" || recent[1].ID != "mid" {
		t.Fatalf("Unexpected order: %v, %v", recent[0].ID, recent[1].ID)
	}

	n, err := db.PruneSessions(base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 pruned session, got %d", n)
	}

	stats, err := db.Counts()
	if err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if stats["sessions"] != 2 || stats["rounds"] != 0 {
		t.Errorf("Expected cascade delete, got %v", stats)
	}
}

func TestHistoryRecorderHandlesSessionEvents(t *testing.T) {
	db := openTestDB(t)
	bus := events.NewEventBus(16)
	defer bus.Stop()

	var failures []error
	hr := NewHistoryRecorder(db, bus, func(err error) { failures = append(failures, err) })
	defer hr.Close()

	hr.HandleEvent(events.NewSessionStartedEvent("sess", "Chat", 2, "cycle", "keyboard"))
	hr.HandleEvent(events.NewRoundFinishedEvent("sess", 1, "hello", RoundOK, 1500*time.Millisecond, nil))
	hr.HandleEvent(events.NewRoundFinishedEvent("sess", 2, "again", RoundSubmitFailed, time.Second, errors.New("no submit")))
	hr.HandleEvent(events.NewSessionFinishedEvent("sess", SessionCompleted, 2, 2, nil))

	if len(failures) != 0 {
		t.Fatalf("Recorder reported errors: %v", failures)
	}

	s, err := db.GetSession("sess")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if s.TargetTitle != "Chat" || s.Status != SessionCompleted || s.CompletedRounds != 2 {
		t.Errorf("Unexpected session: %+v", s)
	}

	rounds, _ := db.SessionRounds("sess")
	if len(rounds) != 2 {
		t.Fatalf("Expected 2 rounds, got %d", len(rounds))
	}
	if rounds[0].DurationMs != 1500 {
		t.Errorf("Expected 1500ms, got %d", rounds[0].DurationMs)
	}
	if rounds[1].ErrorMessage == nil || *rounds[1].ErrorMessage != "no submit" {
		t.Errorf("Expected error message on round 2, got %v", rounds[1].ErrorMessage)
	}

	// A finish for an unknown session is reported, not panicked on
	hr.HandleEvent(events.NewSessionFinishedEvent("ghost", SessionStopped, 0, 1, nil))
	if len(failures) != 1 || !errors.Is(failures[0], ErrSessionNotFound) {
		t.Errorf("Expected one ErrSessionNotFound, got %v", failures)
	}
}

func TestReopenStopsAbandonedSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.StartSession(Session{ID: "crashed", TargetTitle: "Chat", QuestionMode: "cycle", InputMethod: "keyboard", TotalRounds: 5}); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	db.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer again.Close()

	s, err := again.GetSession("crashed")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if s.Status != SessionStopped {
		t.Errorf("Expected status %q, got %q", SessionStopped, s.Status)
	}
	if s.ErrorMessage == nil {
		t.Error("Expected an error message on the abandoned session")
	}
}
