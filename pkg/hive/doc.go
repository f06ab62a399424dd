// Package hive wires the HIVE client together: transport, query cache,
// metrics, token holder, the feed, posts, users and auth services, and the
// optional Redis cache persister.
//
// The runtime mirrors the deployment it runs in. With HIVE_API_URL set it
// talks to the real backend over HTTP; without it every request is served by
// an in-process mock backend, which keeps examples and tests hermetic:
//
//	rt, err := hive.NewFromEnv()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Close(context.Background())
//	page, _, err := rt.Feed.Infinite(ctx, 20)
package hive
