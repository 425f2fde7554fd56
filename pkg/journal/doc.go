// Package journal keeps the trail of verified webhook events.
//
// Every delivery is indexed as its own document, so a redelivered event shows
// up twice with the outcome of each attempt. Documents go to monthly indexes
// named <prefix>-YYYY.MM.
//
// # Usage
//
//	client, err := journal.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	j := journal.NewOpenSearch(client, cfg.IndexPrefix)
//
// Noop satisfies the same interface when OPENSEARCH_ADDRESSES is empty.
package journal
