package desk_test

import (
	"context"
	"testing"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/desk"
	"github.com/dalemusser/opsdesk/internal/app/system/mutation"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"github.com/dalemusser/opsdesk/internal/testutil"
)

func TestCollection_ActivationIsRefcounted(t *testing.T) {
	f := testutil.NewDeskFixture()
	f.Projects.Seed(models.Project{Name: "Alpha", Description: "a"})
	c := desk.NewClient("c1", testutil.NewFakeProvider(), f.Backends())
	defer c.Close()
	ctx := context.Background()

	rel1, err := c.Projects.Activate(ctx)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	rel2, err := c.Projects.Activate(ctx)
	if err != nil {
		t.Fatalf("second Activate failed: %v", err)
	}
	if f.Projects.Watches() != 1 {
		t.Errorf("watches: got %d, want 1 shared feed", f.Projects.Watches())
	}
	if got := c.Projects.View(); !got.Loaded || got.Feed != "live" {
		t.Errorf("view: got loaded=%v feed=%q", got.Loaded, got.Feed)
	}

	rel1()
	rel1()
	if !c.Projects.Active() {
		t.Fatal("feed stopped while a viewer remains")
	}
	rel2()
	if c.Projects.Active() {
		t.Fatal("feed still running after the last release")
	}
	if v := c.Projects.View(); v.Loaded || v.Feed != "idle" {
		t.Errorf("after release: loaded=%v feed=%q", v.Loaded, v.Feed)
	}
}

func TestCollection_SubmitDecodesJSON(t *testing.T) {
	f := testutil.NewDeskFixture()
	c := desk.NewClient("c1", testutil.NewFakeProvider(), f.Backends())
	defer c.Close()
	ctx := context.Background()

	tbl, ok := c.Table("inventory")
	if !ok {
		t.Fatal("inventory table missing")
	}
	out, err := tbl.Submit(ctx, mutation.OpAdd, "", []byte(`{"name":"Widget","quantity":4,"price":1.5,"supplier":"Acme"}`))
	if err != nil {
		t.Fatalf("Submit add failed: %v", err)
	}
	item := out.(models.InventoryItem)
	if item.RecordID() == "" || item.Quantity != 4 {
		t.Fatalf("added item: got %+v", item)
	}

	_, err = tbl.Submit(ctx, mutation.OpUpdate, item.RecordID(), []byte(`{"name":"Widget","quantity":-1}`))
	if !apperr.IsValidation(err) {
		t.Errorf("negative quantity: expected ValidationError, got %v", err)
	}

	if _, err := tbl.Submit(ctx, mutation.OpDelete, "not-an-id", nil); !apperr.IsValidation(err) {
		t.Errorf("bad id: expected ValidationError, got %v", err)
	}
	if _, err := tbl.Submit(ctx, mutation.OpAdd, "", []byte(`{"name":`)); !apperr.IsValidation(err) {
		t.Errorf("bad JSON: expected ValidationError, got %v", err)
	}

	if _, err := tbl.Submit(ctx, mutation.OpDelete, item.RecordID(), nil); err != nil {
		t.Fatalf("Submit delete failed: %v", err)
	}
	if f.Inventory.Len() != 0 {
		t.Errorf("rows after delete: got %d", f.Inventory.Len())
	}
}

func TestCollection_SubscribeSeesLiveChanges(t *testing.T) {
	f := testutil.NewDeskFixture()
	c := desk.NewClient("c1", testutil.NewFakeProvider(), f.Backends())
	defer c.Close()
	ctx := context.Background()

	changed := make(chan struct{}, 1)
	unsub := c.Transactions.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsub()

	release, err := c.Transactions.Activate(ctx)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	defer release()

	if _, _, err := f.Transactions.Insert(ctx, models.Transaction{Type: "income", Amount: 10, Date: "2024-01-02"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for len(c.Transactions.Records()) != 1 {
		select {
		case <-changed:
		case <-deadline:
			t.Fatal("live insert never reached the collection")
		}
	}
}

func TestCollection_ActivateAfterClose(t *testing.T) {
	f := testutil.NewDeskFixture()
	c := desk.NewClient("c1", testutil.NewFakeProvider(), f.Backends())
	c.Close()
	if _, err := c.Employees.Activate(context.Background()); err != desk.ErrClosed {
		t.Errorf("Activate after Close: got %v, want ErrClosed", err)
	}
}

func TestRegistry_CreateRecoversSession(t *testing.T) {
	f := testutil.NewDeskFixture()
	reg, err := desk.NewRegistry(4, f.Backends(), func(token string) desk.Provider {
		p := testutil.NewFakeProvider()
		if token != "" {
			ident := session.Identity{ID: "u1", Email: "a@x.com"}
			p.Persist(&ident)
		}
		return p
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	defer reg.Close()
	f.Roles.Set("u1", "manager")

	c := reg.Create(context.Background(), "tok-u1")
	s := c.Session().Get()
	if !s.Authenticated() || !s.HasRole("manager") {
		t.Errorf("recovered session: got %+v", s)
	}
	anon := reg.Create(context.Background(), "")
	if anon.Session().Get().Status != session.StatusAnonymous {
		t.Errorf("tokenless client: got %v", anon.Session().Get().Status)
	}

	got, ok := reg.Get(c.ID())
	if !ok || got != c {
		t.Error("Get did not return the created client")
	}
	if _, ok := reg.Get(""); ok {
		t.Error("empty id should not resolve")
	}
}

func TestRegistry_EvictionClosesClient(t *testing.T) {
	f := testutil.NewDeskFixture()
	var providers []*testutil.FakeProvider
	reg, err := desk.NewRegistry(2, f.Backends(), func(string) desk.Provider {
		p := testutil.NewFakeProvider()
		providers = append(providers, p)
		return p
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	defer reg.Close()
	ctx := context.Background()

	first := reg.Create(ctx, "")
	reg.Create(ctx, "")
	reg.Create(ctx, "")

	if reg.Len() != 2 {
		t.Errorf("Len: got %d, want 2", reg.Len())
	}
	if _, ok := reg.Get(first.ID()); ok {
		t.Error("least recently used client was not evicted")
	}
	if !providers[0].Closed() {
		t.Error("evicted client was not closed")
	}
}

func TestRegistry_ReapIdleSkipsBusyClients(t *testing.T) {
	f := testutil.NewDeskFixture()
	reg, err := desk.NewRegistry(8, f.Backends(), func(string) desk.Provider { return testutil.NewFakeProvider() })
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	defer reg.Close()
	ctx := context.Background()

	idle := reg.Create(ctx, "")
	busy := reg.Create(ctx, "")
	release, err := busy.Projects.Activate(ctx)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	defer release()

	n := reg.ReapIdle(time.Minute, time.Now().Add(time.Hour))
	if n != 1 {
		t.Errorf("reaped: got %d, want 1", n)
	}
	if _, ok := reg.Get(idle.ID()); ok {
		t.Error("idle client survived")
	}
	if _, ok := reg.Get(busy.ID()); !ok {
		t.Error("busy client was reaped")
	}
}
