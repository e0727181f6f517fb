package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"metagraph/pkg/domain"
)

func seed(t *testing.T, store domain.PersistentStore) domain.NodeID {
	t.Helper()
	var id domain.NodeID
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		n, err := tx.CreateNode(domain.Node{Name: "MetaData_persist", ClassTag: domain.BaseClass, Inheritance: []string{domain.BaseClass}})
		if err != nil {
			return err
		}
		id = n.ID
		if _, err := tx.UpdateNode(id, func(n *domain.Node) error {
			n.Tagged = map[int]domain.MemberID{0: "|rig|mesh"}
			return nil
		}); err != nil {
			return err
		}
		_, err = tx.UpsertMember("|rig|mesh", func(m *domain.Member) error {
			if m.Owners == nil {
				m.Owners = map[int]domain.NodeID{}
			}
			m.Owners[0] = id
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return id
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(ctx, path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	id := seed(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(ctx, path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	node, ok := reloaded.GetNode(id)
	if !ok || node.Name != "MetaData_persist" {
		t.Fatalf("expected node reloaded, got %+v", node)
	}
	members := reloaded.ListMembers()
	if len(members) != 1 || members[0].Owners[0] != id {
		t.Fatalf("expected member back-reference reloaded, got %+v", members)
	}
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %s", reloaded.Path())
	}
}

func TestSQLiteStoreRestoreWritesThrough(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(ctx, path, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	seed(t, store)
	if err := store.Restore(ctx, domain.Snapshot{}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	_ = store.Close()

	reloaded, err := NewStore(ctx, path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	if n := len(reloaded.ListNodes()); n != 0 {
		t.Fatalf("expected empty document after restore, got %d nodes", n)
	}
}

func TestSQLiteStoreFailedTransactionNotPersisted(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, filepath.Join(t.TempDir(), "state.db"), nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateNode(domain.Node{ClassTag: domain.BaseClass}); err != nil {
			return err
		}
		return context.Canceled
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no persisted buckets, got %d", count)
	}
}
