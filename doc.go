// Package analytics pulls users, posts and comments from a social media REST
// API and ranks them.
//
// # Overview
//
// A Client holds one published dataset at a time. Refresh authenticates with
// the configured client credentials, fetches the users mapping, then each
// selected user's posts one user at a time, and for every user fetches the
// comments of all of that user's posts concurrently. The assembled dataset
// replaces the previous one only when the whole run has finished.
//
// # Quick Start
//
//	client, err := analytics.NewClient(&analytics.Config{
//		ClientID:     os.Getenv("ANALYTICS_CLIENT_ID"),
//		ClientSecret: os.Getenv("ANALYTICS_CLIENT_SECRET"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.Refresh(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	for _, u := range client.TopUsers(5) {
//		fmt.Printf("%s: %d comments\n", u.UserName, u.TotalComments)
//	}
//	for _, p := range client.TrendingPosts(5) {
//		fmt.Printf("%s (%d comments)\n", p.Content, p.CommentCount)
//	}
//
// # Authentication
//
// The bearer token is obtained lazily on the first Refresh. If any request in
// a run is rejected with 401, the token is dropped, a new one is requested
// and the whole run starts over once. A second rejection fails the refresh
// with an *errors.AuthError.
//
// # Partial Failures
//
// Failing to fetch the users mapping fails the refresh. A user whose posts
// cannot be fetched is skipped. A post whose comments cannot be fetched stays
// in the dataset with no comments entry and ranks as if it had none:
//
//	state := client.State()
//	if _, ok := state.CommentsByPost[postID]; !ok {
//		// comments were not fetched
//	}
//
// # Missing Comments Count As Zero
//
// The rankings fail open: a post whose comments could not be fetched counts
// as having zero comments, both in TrendingPosts and in the totals of
// TopUsers. This is a known approximation. A flaky comments endpoint can push
// a busy post or user down the ranking without any error being returned from
// Refresh. The failure is logged with the post_id, and
// State().CommentsByPost tells a post with no comments (an empty entry) from
// one whose comments are unknown (no entry).
//
// # Overlapping Refreshes
//
// Refresh may be called while another refresh is running. Every refresh takes
// a sequence number when it starts and the dataset of an older refresh never
// replaces the dataset of a newer one, whatever order they finish in.
//
// # Error Handling
//
// Errors are typed and live in pkg/errors:
//
//	if err := client.Refresh(ctx); err != nil {
//		var authErr *errors.AuthError
//		var httpErr *errors.HTTPError
//		switch {
//		case stderrors.As(err, &authErr):
//			// credentials rejected, or still unauthorized after re-authenticating
//		case stderrors.As(err, &httpErr):
//			// the users endpoint returned a non-2xx status
//		}
//	}
//
// Refresh and SearchPosts return an *errors.StateError once the client is
// closed.
//
// # Logging
//
// Provide a logger in the config to receive structured diagnostics. Every
// record of a refresh carries its run_id:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//		Level: slog.LevelDebug,
//	}))
//
//	config := &analytics.Config{
//		// ... other config ...
//		Logger: logger,
//	}
package analytics
