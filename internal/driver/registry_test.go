package driver

import (
	"testing"

	"sellersync/internal/config"
)

func testRegistryConfig() config.Config {
	return config.Config{
		MarketplaceIDs: []string{"M1"},
		StartDaysAgo:   8,
		EndDaysAgo:     1,
		BackfillYears:  2,
		ChunkSize:      10,
	}
}

func TestBuildMatchesRegisteredNames(t *testing.T) {
	drivers := Build(testRegistryConfig(), Services{}, false)
	names := Names()
	if len(drivers) != len(names) {
		t.Fatalf("expected %d drivers, got %d", len(names), len(drivers))
	}
	byName := map[string]bool{}
	for _, d := range drivers {
		byName[d.Name()] = true
	}
	for _, name := range names {
		if !byName[name] {
			t.Fatalf("registered name %s has no driver", name)
		}
	}
}

func TestSelectFiltersAndRejectsUnknown(t *testing.T) {
	drivers := Build(testRegistryConfig(), Services{}, false)

	selected, err := Select(drivers, []string{"ledger_detail", "transactions"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected 2 drivers, got %d", len(selected))
	}

	if _, err := Select(drivers, []string{"nope"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}

	all, err := Select(drivers, nil)
	if err != nil || len(all) != len(drivers) {
		t.Fatalf("expected all drivers for empty selection")
	}
}
