package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/changefeed"
	"github.com/dalemusser/opsdesk/internal/app/system/reconcile"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"github.com/dalemusser/opsdesk/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func projectNames(recs []models.Project) []string {
	out := make([]string, 0, len(recs))
	for _, p := range recs {
		out = append(out, p.Name)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLoadInitial_ReplacesProjection(t *testing.T) {
	tbl := testutil.NewProjectTable()
	tbl.Seed(models.Project{Name: "Alpha", Description: "a"}, models.Project{Name: "Beta", Description: "b"})
	rc := reconcile.New[models.Project]("projects", tbl, nil)

	if rc.Loaded() {
		t.Fatal("new reconciler should not be loaded")
	}
	if err := rc.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}
	if !rc.Loaded() {
		t.Error("expected Loaded after success")
	}
	if got := projectNames(rc.Snapshot()); !equal(got, []string{"Alpha", "Beta"}) {
		t.Errorf("snapshot: got %v", got)
	}
}

func TestApplyChangeEvent_Idempotent(t *testing.T) {
	tbl := testutil.NewProjectTable()
	rc := reconcile.New[models.Project]("projects", tbl, nil)
	if err := rc.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}

	p := models.Project{ID: primitive.NewObjectID(), Name: "Gamma", Description: "g"}
	ev := changefeed.Event[models.Project]{Collection: "projects", Op: changefeed.OpInsert, ID: p.RecordID(), Record: p, Seq: 5}
	rc.ApplyChangeEvent(ev)
	rc.ApplyChangeEvent(ev)
	if got := rc.Snapshot(); len(got) != 1 {
		t.Fatalf("snapshot: got %d records, want 1", len(got))
	}

	del := changefeed.Event[models.Project]{Collection: "projects", Op: changefeed.OpDelete, ID: p.RecordID(), Seq: 6}
	rc.ApplyChangeEvent(del)
	rc.ApplyChangeEvent(del)
	rc.ApplyChangeEvent(ev)
	if got := rc.Snapshot(); len(got) != 0 {
		t.Errorf("replayed insert resurrected a deleted record: %v", projectNames(got))
	}
}

func TestApplyChangeEvent_SkipsEventsCoveredByFetch(t *testing.T) {
	tbl := testutil.NewProjectTable()
	seeded := tbl.Seed(models.Project{Name: "Alpha", Description: "a"})
	rc := reconcile.New[models.Project]("projects", tbl, nil)
	if err := rc.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}

	old := seeded[0]
	old.Name = "Alpha (old)"
	rc.ApplyChangeEvent(changefeed.Event[models.Project]{Op: changefeed.OpUpdate, ID: old.RecordID(), Record: old, Seq: tbl.Seq()})
	got, _ := rc.Get(old.RecordID())
	if got.Name != "Alpha" {
		t.Errorf("event at the fetch floor was applied: got %q", got.Name)
	}
}

func TestMutationAndEcho_AppearsOnce(t *testing.T) {
	tbl := testutil.NewProjectTable()
	rc := reconcile.New[models.Project]("projects", tbl, nil)
	ctx := context.Background()
	if err := rc.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}

	stream, err := tbl.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer stream.Close(ctx)

	rec, seq, err := tbl.Insert(ctx, models.Project{Name: "Delta", Description: "d"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	rc.ApplyMutationResult(changefeed.OpInsert, rec, seq)

	echo, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	rc.ApplyChangeEvent(echo)

	snap := rc.Snapshot()
	if len(snap) != 1 || snap[0].RecordID() != rec.RecordID() {
		t.Errorf("snapshot: got %v, want exactly [Delta]", projectNames(snap))
	}
}

func TestDeleteMissingRecord_NoChange(t *testing.T) {
	tbl := testutil.NewProjectTable()
	tbl.Seed(models.Project{Name: "Alpha", Description: "a"})
	rc := reconcile.New[models.Project]("projects", tbl, nil)
	if err := rc.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}

	notified := 0
	unsub := rc.SubscribeProjection(func([]models.Project) { notified++ })
	defer unsub()

	rc.ApplyChangeEvent(changefeed.Event[models.Project]{Op: changefeed.OpDelete, ID: primitive.NewObjectID().Hex(), Seq: 99})
	if notified != 0 {
		t.Errorf("delete of a missing id notified %d times", notified)
	}
	if len(rc.Snapshot()) != 1 {
		t.Error("projection changed")
	}
}

func TestLoadInitial_BuffersEventsWhileInFlight(t *testing.T) {
	tbl := testutil.NewProjectTable()
	tbl.Seed(models.Project{Name: "Alpha", Description: "a"})
	rc := reconcile.New[models.Project]("projects", tbl, nil)

	late := models.Project{ID: primitive.NewObjectID(), Name: "Late", Description: "l"}
	tbl.AfterQuery = func() {
		rc.ApplyChangeEvent(changefeed.Event[models.Project]{Op: changefeed.OpInsert, ID: late.RecordID(), Record: late, Seq: tbl.Seq() + 1})
		if len(rc.Snapshot()) != 0 {
			t.Error("event applied before the fetch completed")
		}
	}

	if err := rc.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}
	if got := projectNames(rc.Snapshot()); !equal(got, []string{"Alpha", "Late"}) {
		t.Errorf("snapshot: got %v, want [Alpha Late]", got)
	}
}

func TestApplyMutationResult_VisibleDuringLoad(t *testing.T) {
	tbl := testutil.NewProjectTable()
	tbl.Seed(models.Project{Name: "Alpha", Description: "a"})
	rc := reconcile.New[models.Project]("projects", tbl, nil)

	widget := models.Project{ID: primitive.NewObjectID(), Name: "Widget", Description: "w"}
	seq := tbl.Seq() + 1
	tbl.AfterQuery = func() {
		rc.ApplyMutationResult(changefeed.OpInsert, widget, seq)
		if got := projectNames(rc.Snapshot()); !equal(got, []string{"Widget"}) {
			t.Errorf("snapshot during load: got %v, want [Widget]", got)
		}
	}

	if err := rc.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}
	if got := projectNames(rc.Snapshot()); !equal(got, []string{"Alpha", "Widget"}) {
		t.Errorf("snapshot after load: got %v, want [Alpha Widget]", got)
	}

	rc.ApplyChangeEvent(changefeed.Event[models.Project]{Op: changefeed.OpInsert, ID: widget.RecordID(), Record: widget, Seq: seq})
	if got := projectNames(rc.Snapshot()); !equal(got, []string{"Alpha", "Widget"}) {
		t.Errorf("snapshot after echo: got %v, want [Alpha Widget]", got)
	}
}

func TestApplyMutationResult_SurvivesFailedLoad(t *testing.T) {
	tbl := testutil.NewProjectTable()
	rc := reconcile.New[models.Project]("projects", tbl, nil)

	widget := models.Project{ID: primitive.NewObjectID(), Name: "Widget", Description: "w"}
	tbl.FailQuery = errors.New("connection reset")
	tbl.AfterQuery = func() { rc.ApplyMutationResult(changefeed.OpInsert, widget, 7) }

	if err := rc.LoadInitial(context.Background()); err == nil {
		t.Fatal("expected load failure")
	}
	if got := projectNames(rc.Snapshot()); !equal(got, []string{"Widget"}) {
		t.Errorf("snapshot: got %v, want [Widget]", got)
	}
}

func TestLoadInitial_SupersededResultDiscarded(t *testing.T) {
	tbl := testutil.NewProjectTable()
	tbl.Seed(models.Project{Name: "Alpha", Description: "a"})
	rc := reconcile.New[models.Project]("projects", tbl, nil)

	tbl.AfterQuery = func() { rc.Invalidate() }
	if err := rc.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}
	if rc.Loaded() || len(rc.Snapshot()) != 0 {
		t.Errorf("superseded fetch was applied: %v", projectNames(rc.Snapshot()))
	}
}

func TestLoadInitial_FailureKeepsProjection(t *testing.T) {
	tbl := testutil.NewProjectTable()
	tbl.Seed(models.Project{Name: "Alpha", Description: "a"})
	rc := reconcile.New[models.Project]("projects", tbl, nil)
	ctx := context.Background()
	if err := rc.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}

	tbl.FailQuery = errors.New("connection reset")
	err := rc.LoadInitial(ctx)
	if !apperr.IsStore(err) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if got := projectNames(rc.Snapshot()); !equal(got, []string{"Alpha"}) {
		t.Errorf("snapshot after failed fetch: got %v", got)
	}
	if rc.LastLoadError() == nil {
		t.Error("expected LastLoadError to be set")
	}

	tbl.FailQuery = nil
	if err := rc.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial retry failed: %v", err)
	}
	if rc.LastLoadError() != nil {
		t.Error("LastLoadError should clear after success")
	}
}

func TestInvalidate_ClearsProjection(t *testing.T) {
	tbl := testutil.NewProjectTable()
	tbl.Seed(models.Project{Name: "Alpha", Description: "a"})
	rc := reconcile.New[models.Project]("projects", tbl, nil)
	ctx := context.Background()
	_ = rc.LoadInitial(ctx)

	rc.Invalidate()
	if rc.Loaded() || len(rc.Snapshot()) != 0 {
		t.Fatal("Invalidate should clear the projection")
	}
	if err := rc.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}
	if len(rc.Snapshot()) != 1 {
		t.Error("reload after Invalidate should restore records")
	}
}

func TestInventory_UpdateThenDelete(t *testing.T) {
	tbl := testutil.NewInventoryTable()
	items := tbl.Seed(
		models.InventoryItem{Name: "Widget", Quantity: 10, Price: 2.5, Supplier: "Acme"},
		models.InventoryItem{Name: "Gadget", Quantity: 3, Price: 9, Supplier: "Globex"},
	)
	rc := reconcile.New[models.InventoryItem]("inventory", tbl, nil)
	ctx := context.Background()
	if err := rc.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}

	w := items[0]
	w.Quantity = 7
	updated, seq, err := tbl.Update(ctx, w)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	rc.ApplyChangeEvent(changefeed.Event[models.InventoryItem]{Op: changefeed.OpUpdate, ID: updated.RecordID(), Record: updated, Seq: seq})

	seq, err = tbl.Delete(ctx, items[1].RecordID())
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	rc.ApplyChangeEvent(changefeed.Event[models.InventoryItem]{Op: changefeed.OpDelete, ID: items[1].RecordID(), Seq: seq})

	snap := rc.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot: got %d items, want 1", len(snap))
	}
	if snap[0].Name != "Widget" || snap[0].Quantity != 7 {
		t.Errorf("snapshot[0]: got %+v", snap[0])
	}
}

func TestSubscribeProjection(t *testing.T) {
	tbl := testutil.NewProjectTable()
	rc := reconcile.New[models.Project]("projects", tbl, nil)

	var last []models.Project
	calls := 0
	unsub := rc.SubscribeProjection(func(p []models.Project) {
		calls++
		last = p
	})
	_ = rc.LoadInitial(context.Background())
	p := models.Project{ID: primitive.NewObjectID(), Name: "Eps", Description: "e"}
	rc.ApplyMutationResult(changefeed.OpInsert, p, 0)

	if calls != 2 {
		t.Errorf("calls: got %d, want 2", calls)
	}
	if len(last) != 1 || last[0].Name != "Eps" {
		t.Errorf("last projection: got %v", projectNames(last))
	}

	unsub()
	rc.ApplyMutationResult(changefeed.OpDelete, p, 0)
	if calls != 2 {
		t.Errorf("callback ran after unsubscribe")
	}
}
