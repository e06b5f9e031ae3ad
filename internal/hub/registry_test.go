package hub

import "testing"

func TestRegistryInsertAndLookup(t *testing.T) {
	r := NewRegistry()
	h := &SessionHandle{SessionID: "s1", TenantID: "t1", BranchID: "b1"}

	if err := r.Insert("t1", "b1", h, 0, 1); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got := r.Lookup("t1", "b1")
	if got != h {
		t.Errorf("expected Lookup to return the inserted handle")
	}
	if r.Lookup("t1", "b2") != nil {
		t.Errorf("expected nil for unregistered branch")
	}
}

func TestRegistryEnforcesMaxBranches(t *testing.T) {
	r := NewRegistry()
	r.Insert("t1", "b1", &SessionHandle{SessionID: "s1", TenantID: "t1", BranchID: "b1"}, 1, 1)

	err := r.Insert("t1", "b2", &SessionHandle{SessionID: "s2", TenantID: "t1", BranchID: "b2"}, 1, 1)
	if err != ErrTenantBranchLimit {
		t.Errorf("expected ErrTenantBranchLimit, got %v", err)
	}
}

func TestRegistryInsertDisplacesExisting(t *testing.T) {
	r := NewRegistry()
	displaced := false
	var displacedBy *SessionHandle
	first := &SessionHandle{SessionID: "s1", TenantID: "t1", BranchID: "b1", Displace: func(newHandle *SessionHandle) {
		displaced = true
		displacedBy = newHandle
	}}
	r.Insert("t1", "b1", first, 0, 1)

	second := &SessionHandle{SessionID: "s2", TenantID: "t1", BranchID: "b1"}
	if err := r.Insert("t1", "b1", second, 0, 1); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if !displaced {
		t.Error("expected the prior handle's Displace to be called")
	}
	if displacedBy != second {
		t.Error("expected Displace to receive the handle that replaced it")
	}
	if r.Lookup("t1", "b1") != second {
		t.Error("expected the new handle to replace the old one")
	}
}

func TestRegistryRejectsReconnectWhenBranchConnectionsDisabled(t *testing.T) {
	r := NewRegistry()
	first := &SessionHandle{SessionID: "s1", TenantID: "t1", BranchID: "b1"}
	if err := r.Insert("t1", "b1", first, 0, 0); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	second := &SessionHandle{SessionID: "s2", TenantID: "t1", BranchID: "b1"}
	err := r.Insert("t1", "b1", second, 0, 0)
	if err != ErrBranchConnectionLimit {
		t.Errorf("expected ErrBranchConnectionLimit, got %v", err)
	}
	if r.Lookup("t1", "b1") != first {
		t.Error("rejected reconnect must not displace the existing handle")
	}
}

func TestRegistryRemoveOnlyIfCurrent(t *testing.T) {
	r := NewRegistry()
	h := &SessionHandle{SessionID: "s1", TenantID: "t1", BranchID: "b1"}
	r.Insert("t1", "b1", h, 0, 1)

	// A stale removal referencing an old session id must not evict a
	// handle that has since been replaced.
	r.Insert("t1", "b1", &SessionHandle{SessionID: "s2", TenantID: "t1", BranchID: "b1"}, 0, 1)
	r.Remove("t1", "b1", "s1")

	if r.Lookup("t1", "b1") == nil {
		t.Error("stale Remove must not evict the current session")
	}

	r.Remove("t1", "b1", "s2")
	if r.Lookup("t1", "b1") != nil {
		t.Error("expected Remove with the current session id to evict")
	}
}

func TestRegistryIterTenantExcludesOtherTenants(t *testing.T) {
	r := NewRegistry()
	r.Insert("t1", "b1", &SessionHandle{SessionID: "s1", TenantID: "t1", BranchID: "b1"}, 0, 1)
	r.Insert("t1", "b2", &SessionHandle{SessionID: "s2", TenantID: "t1", BranchID: "b2"}, 0, 1)
	r.Insert("t2", "b1", &SessionHandle{SessionID: "s3", TenantID: "t2", BranchID: "b1"}, 0, 1)

	handles := r.IterTenant("t1")
	if len(handles) != 2 {
		t.Errorf("expected 2 handles for t1, got %d", len(handles))
	}
	for _, h := range handles {
		if h.TenantID != "t1" {
			t.Errorf("leaked handle from another tenant: %+v", h)
		}
	}
}
