package health

import (
	"context"
	"testing"
)

func TestCheckAllEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("empty registry should report healthy")
	}
	if len(statuses) != 0 {
		t.Errorf("expected no statuses, got %d", len(statuses))
	}
}

func TestCheckAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("providers", func(ctx context.Context) Status {
		return Status{Name: "providers", Healthy: true, Detail: "2 available"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("all checkers healthy, registry reported unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestCheckAllUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) Status {
		return Status{Name: "database", Healthy: false, Detail: "connection refused"}
	})
	r.Register("providers", func(ctx context.Context) Status {
		return Status{Name: "providers", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Error("one checker unhealthy, registry reported healthy")
	}
	var found bool
	for _, st := range statuses {
		if st.Name == "database" && !st.Healthy && st.Detail == "connection refused" {
			found = true
		}
	}
	if !found {
		t.Error("unhealthy database status missing from results")
	}
}

func TestRegisterFillsMissingName(t *testing.T) {
	r := Registry{checkers: map[string]Checker{
		"cache": func(ctx context.Context) Status { return Status{Healthy: true} },
	}}
	_, statuses := r.CheckAll(context.Background())
	if len(statuses) != 1 || statuses[0].Name != "cache" {
		t.Errorf("expected registry to fill in checker name, got %+v", statuses)
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) Status {
		return Status{Name: "database", Healthy: false}
	})
	r.Register("database", func(ctx context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy || len(statuses) != 1 {
		t.Errorf("expected single healthy status after replace, got healthy=%v statuses=%d", healthy, len(statuses))
	}
}
