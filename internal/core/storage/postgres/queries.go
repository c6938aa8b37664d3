package postgres

// SQL for the profile, aggregate and watermark collections.

const (
	// queryAppendProfileTag inserts one tag into a (cookie, action) history.
	// ON CONFLICT DO NOTHING makes redelivered events no-ops: the unique key
	// (cookie, action, event_id) is the replay guard. No rows returned means
	// the tag was already stored.
	queryAppendProfileTag = `
		INSERT INTO profile_tags (cookie, action, event_id, tag_time, tag)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cookie, action, event_id) DO NOTHING
		RETURNING event_id
	`

	// queryTrimProfileTags evicts everything below the most recent
	// ProfileLimit entries for one (cookie, action). Runs in the same
	// transaction as the insert so the bound holds atomically.
	queryTrimProfileTags = `
		DELETE FROM profile_tags
		WHERE cookie = $1 AND action = $2
		  AND ctid NOT IN (
			SELECT ctid FROM profile_tags
			WHERE cookie = $1 AND action = $2
			ORDER BY tag_time DESC, event_id DESC
			LIMIT $3
		  )
	`

	// queryGetProfileTags reads a history most-recent-first. The time bounds
	// collapse to the full range when the caller passes the sentinel values.
	queryGetProfileTags = `
		SELECT tag
		FROM profile_tags
		WHERE cookie = $1 AND action = $2
		  AND tag_time >= $3 AND tag_time < $4
		ORDER BY tag_time DESC, event_id DESC
		LIMIT $5
	`

	// queryAddAggregate applies a delta as one atomic additive upsert.
	// Commutative: any interleaving of concurrent writers yields the same
	// final counters.
	queryAddAggregate = `
		INSERT INTO aggregates (minute, action, origin, brand_id, category_id, count, sum_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (minute, action, origin, brand_id, category_id)
		DO UPDATE SET
			count     = aggregates.count + EXCLUDED.count,
			sum_price = aggregates.sum_price + EXCLUDED.sum_price
	`

	// queryScanAggregates walks the minute index; dimension predicates are
	// post-filters, never an index over the full combinatorial space.
	queryScanAggregates = `
		SELECT minute, action, origin, brand_id, category_id, count, sum_price
		FROM aggregates
		WHERE minute >= $1 AND minute < $2
		  AND action = $3
		  AND ($4::text IS NULL OR origin = $4)
		  AND ($5::text IS NULL OR brand_id = $5)
		  AND ($6::text IS NULL OR category_id = $6)
		ORDER BY minute ASC
	`

	// queryDeleteAggregatesThrough removes expired buckets. A bucket that
	// has aged exactly the retention window counts as expired.
	queryDeleteAggregatesThrough = `
		DELETE FROM aggregates WHERE minute <= $1
	`

	// queryAdvanceWatermark raises the single watermark row with take-max
	// semantics. GREATEST is evaluated inside the row update, so the
	// database serializes concurrent advances and none can regress it.
	queryAdvanceWatermark = `
		INSERT INTO retention_watermark (id, max_event_time)
		VALUES (1, $1)
		ON CONFLICT (id)
		DO UPDATE SET max_event_time = GREATEST(retention_watermark.max_event_time, EXCLUDED.max_event_time)
	`

	queryReadWatermark = `SELECT max_event_time FROM retention_watermark WHERE id = 1`
)
