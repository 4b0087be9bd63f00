package internal

import (
	"sort"

	"github.com/jamesprial/go-social-analytics/pkg/types"
)

// TopUsersByComments ranks the users that own at least one post in ds by the
// total number of comments across their posts. Users with equal totals keep
// the order in which their first post appears in ds.Posts. Posts whose
// comments are absent count as zero.
func TopUsersByComments(ds *types.Dataset, limit int) []types.UserRanking {
	if ds == nil || limit <= 0 {
		return []types.UserRanking{}
	}

	index := make(map[string]int)
	rows := make([]types.UserRanking, 0)
	for _, post := range ds.Posts {
		i, ok := index[post.UserID]
		if !ok {
			name := post.AuthorName
			if u, found := ds.Users[post.UserID]; found {
				name = u.Name
			}
			i = len(rows)
			index[post.UserID] = i
			rows = append(rows, types.UserRanking{UserID: post.UserID, UserName: name})
		}
		rows[i].TotalComments += ds.CommentCount(post.ID)
	}

	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].TotalComments > rows[b].TotalComments
	})
	return topN(rows, limit)
}

// TopPostsByComments ranks posts by comment count. Posts with equal counts
// keep their dataset order.
func TopPostsByComments(ds *types.Dataset, limit int) []types.PostRanking {
	if ds == nil || limit <= 0 {
		return []types.PostRanking{}
	}

	rows := Feed(ds)
	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].CommentCount > rows[b].CommentCount
	})
	return topN(rows, limit)
}

// Feed returns every post in dataset order together with its comment count.
func Feed(ds *types.Dataset) []types.PostRanking {
	if ds == nil {
		return []types.PostRanking{}
	}
	rows := make([]types.PostRanking, len(ds.Posts))
	for i, post := range ds.Posts {
		rows[i] = types.PostRanking{Post: post, CommentCount: ds.CommentCount(post.ID)}
	}
	return rows
}

func topN[T any](rows []T, limit int) []T {
	if len(rows) > limit {
		return rows[:limit:limit]
	}
	return rows
}
