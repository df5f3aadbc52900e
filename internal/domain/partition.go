package domain

import "github.com/MatthewMckee4/karva/internal/model"

// Shard is one worker's slice of the run.
type Shard struct {
	Tests []*model.NormalizedTest
	Paths []string
}

// Partition splits tests into at most `workers` shards, round-robin over
// module boundaries: tests from the same module always land in the same
// shard so module and package setup is shared within one worker.
func Partition(tests []*model.NormalizedTest, workers int) []Shard {
	if workers < 1 {
		workers = 1
	}

	var moduleOrder []model.Path

	byModule := map[model.Path][]*model.NormalizedTest{}

	for _, nt := range tests {
		if _, seen := byModule[nt.Module]; !seen {
			moduleOrder = append(moduleOrder, nt.Module)
		}
		byModule[nt.Module] = append(byModule[nt.Module], nt)
	}

	if len(moduleOrder) < workers {
		workers = len(moduleOrder)
	}
	if workers < 1 {
		workers = 1
	}

	shards := make([]Shard, workers)

	for i, mod := range moduleOrder {
		shard := &shards[i%workers]
		shard.Tests = append(shard.Tests, byModule[mod]...)
		shard.Paths = append(shard.Paths, string(mod))
	}

	return shards
}
