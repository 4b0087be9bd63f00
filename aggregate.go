package analytics

import (
	"github.com/jamesprial/go-social-analytics/internal"
	"github.com/jamesprial/go-social-analytics/pkg/types"
)

// TopUsersByComments ranks users by the total number of comments on their
// posts, highest first. Only users with at least one post in ds appear. Ties
// keep the order in which the users' first posts appear. A post whose
// comments could not be fetched counts as zero.
func TopUsersByComments(ds *types.Dataset, limit int) []types.UserRanking {
	return internal.TopUsersByComments(ds, limit)
}

// TopPostsByComments ranks posts by comment count, highest first. Ties keep
// dataset order.
func TopPostsByComments(ds *types.Dataset, limit int) []types.PostRanking {
	return internal.TopPostsByComments(ds, limit)
}

// Feed returns every post in dataset order with its comment count.
func Feed(ds *types.Dataset) []types.PostRanking {
	return internal.Feed(ds)
}
