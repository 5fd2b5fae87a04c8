package config

import (
	"fmt"
	"slices"
	"testing"
)

func TestPartition(t *testing.T) {
	for _, n := range []int{0, 1, 19, 20, 21, 40, 41, 137} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			ids := make([]string, n)
			for i := range ids {
				ids[i] = fmt.Sprintf("%09d", 316000000+i)
			}

			groups := Partition(ids, 20)

			wantGroups := (n + 19) / 20
			if len(groups) != wantGroups {
				t.Fatalf("expected %d groups, got %d", wantGroups, len(groups))
			}

			var joined []string
			for i, g := range groups {
				if len(g) == 0 || len(g) > 20 {
					t.Errorf("group %d has %d elements", i, len(g))
				}
				joined = append(joined, g...)
			}
			if !slices.Equal(joined, ids) {
				t.Error("concatenated groups do not reproduce the input")
			}
		})
	}
}

func TestPartitionGroupsAreIndependent(t *testing.T) {
	ids := []int{1, 2, 3, 4, 5}
	groups := Partition(ids, 2)

	groups[0] = append(groups[0], 99)
	if groups[1][0] != 3 {
		t.Fatalf("appending to one group overwrote the next: %v", groups)
	}
}
