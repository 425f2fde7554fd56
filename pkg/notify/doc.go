// Package notify delivers the notification intents produced by the billing
// reconciler.
//
// The reconciler decides what to say; this package decides how and whether
// to send it. A Dispatcher renders each intent into an HTML email with templ,
// claims the intent's key so a redelivered webhook does not send the same
// email twice, and hands the message to a Sender with bounded concurrency.
// Delivery failures are returned to the caller (or logged by Notify) and
// never affect billing state.
//
// # Senders
//
//   - PostmarkSender delivers through the Postmark transactional API.
//   - DevSender writes each email to disk as an HTML file plus JSON metadata.
//
// # Claims
//
// RedisClaims uses SET NX with a TTL, so claims survive restarts and are
// shared by every replica. MemoryClaims keeps them in process and suits
// single-instance or test setups. A claim is released when sending fails so
// the next delivery of the event can try again.
//
// # Usage
//
//	rdb, err := notify.ConnectRedis(ctx, redisCfg)
//	if err != nil {
//		return err
//	}
//	sender, err := notify.NewPostmarkSender(emailCfg)
//	if err != nil {
//		return err
//	}
//	d := notify.NewDispatcher(sender,
//		notify.WithClaims(notify.NewRedisClaims(rdb)),
//		notify.WithLogger(log),
//	)
//	defer d.Shutdown(ctx)
//
//	out, err := reconciler.HandleWebhook(ctx, body, signature)
//	if err == nil {
//		d.Notify(ctx, out.Intents)
//	}
package notify
