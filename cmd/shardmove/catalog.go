package main

import "github.com/block/shardmove/pkg/plan"

// defaultCatalog is the production migration: every table moving off the
// old monolithic schema, in drain order. Ordering is significant. The
// post_texts plan joins against sharded_public.posts to resolve each
// row's distribution key, so the posts plan must have fully drained
// before it starts.
func defaultCatalog() plan.Catalog {
	return plan.Catalog{
		&plan.RangePlan{
			Table:     "unsharded_public.posts",
			Dest:      "sharded_public.posts",
			IDColumn:  "posts_id",
			ChunkSize: 100_000,
			Columns: []plan.Column{
				{Name: "posts_id", Cast: "BIGINT"},
				{Name: "media_id", Cast: "BIGINT"},
				{Name: "url"},
				{Name: "guid"},
				{Name: "title"},
				{Name: "publish_date"},
				{Name: "collect_date"},
				{Name: "full_text_rss"},
				{Name: "language"},
			},
			Conflict: []string{"media_id", "guid"},
		},
		&plan.RangePlan{
			Table:     "unsharded_public.daily_hit_counts",
			Dest:      "sharded_public.daily_hit_counts",
			IDColumn:  "daily_hit_counts_id",
			ChunkSize: 500_000,
			Columns: []plan.Column{
				{Name: "daily_hit_counts_id", Cast: "BIGINT"},
				{Name: "media_id", Cast: "BIGINT"},
				{Name: "day"},
				{Name: "hit_count", Cast: "BIGINT"},
			},
			Conflict: []string{"media_id", "day"},
		},
		&plan.PartitionedPlan{
			Table:          "unsharded_public.fetch_events",
			Dest:           "sharded_public.fetch_events",
			IDColumn:       "fetch_events_id",
			PartitionWidth: 100_000_000,
			Columns: []plan.Column{
				// Sub-relations carry a partition-local id column which
				// the sharded table renames back to the logical name.
				{Name: "fetch_events_p_id", Alias: "fetch_events_id", Cast: "BIGINT"},
				{Name: "media_id", Cast: "BIGINT"},
				{Name: "state"},
				{Name: "fetch_date"},
				{Name: "error_message"},
			},
			Conflict: []string{"media_id", "fetch_events_id"},
		},
		&plan.CrossSchemaJoinPlan{
			Table:     "unsharded_public.post_texts",
			Dest:      "sharded_public.post_texts",
			IDColumn:  "post_texts_id",
			ChunkSize: 50_000,
			Columns: []plan.Column{
				{Name: "post_texts_id", Cast: "BIGINT"},
				{Name: "posts_id", Cast: "BIGINT"},
				{Name: "body"},
				{Name: "body_length", Cast: "BIGINT"},
			},
			Conflict: []string{"media_id", "post_texts_id"},
			Join: plan.JoinSpec{
				// posts is distributed, post_texts is being moved from a
				// local schema; the distribution key has to be staged
				// through a temp table rather than joined directly.
				Table: "sharded_public.posts",
				Key:   "posts_id",
				Carry: []plan.Column{{Name: "media_id", Cast: "BIGINT"}},
			},
		},
	}
}
