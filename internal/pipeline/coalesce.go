package pipeline

import "github.com/couchcryptid/water-chart-etl/internal/domain"

// group is one place requested one or more times in a batch.
type group struct {
	req     domain.LoadRequest
	members []int // indexes into the batch
}

// coalesce merges requests for the same place, keeping first-seen order. The
// merged request is forced if any member is. Invalid requests belong to no
// group.
func coalesce(batch []domain.LoadRequest) []group {
	groups := make([]group, 0, len(batch))
	byURN := make(map[string]int, len(batch))
	for i, req := range batch {
		if req.Invalid != nil {
			continue
		}
		if gi, ok := byURN[req.Place.URN]; ok {
			groups[gi].req.Force = groups[gi].req.Force || req.Force
			groups[gi].members = append(groups[gi].members, i)
			continue
		}
		byURN[req.Place.URN] = len(groups)
		groups = append(groups, group{req: req, members: []int{i}})
	}
	return groups
}
