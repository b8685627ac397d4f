// Package notifications posts job and queue milestones to an ntfy topic.
//
// Only failures, batch completion and queue drain are announced, each behind
// its own config switch. Without a topic every Publish is a no-op, so callers
// never need to check whether notifications are configured.
package notifications
