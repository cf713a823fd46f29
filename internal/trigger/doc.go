// Package trigger fires named schedules (cron expressions or fixed intervals)
// and enqueues a freshly built task on each firing.
//
// Triggers only produce work; concurrency, ordering and timeouts are the
// dispatcher's business.
package trigger
