// Package checkpoint stores pagination checkpoints so an interrupted
// collection can continue where it stopped instead of from the newest post.
//
// A checkpoint records, per job (query, search options, target collection
// and post limit), the max_id cursor of the next page still to
// fetch and how many posts have already been delivered. Two stores are
// provided:
//
//   - RedisStore persists checkpoints in Redis with a TTL, so a restarted
//     process resumes the same query
//   - MemoryStore keeps them in process, enough to survive credential rotation
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := checkpoint.NewRedisStore(redisClient, 24*time.Hour)
//
//	key := checkpoint.Key{Query: "#golang", ResultType: "recent", Language: "en", Collection: "twitter_data"}
//
//	entry, err := store.Get(ctx, key)
//	if errors.Is(err, checkpoint.ErrNotFound) {
//		// start from the newest post
//	}
//
//	err = store.Set(ctx, key, checkpoint.Entry{MaxID: 1234, Collected: 300})
//
// # Metrics
//
// Operations are counted in sonet_checkpoint_operations_total{operation,result}.
package checkpoint
