// Package notifier sends outbound text to chats.
//
// Two kinds of messages leave the bot: replies to inbound updates and
// reminder deliveries fired by the scheduler. Both go through Service, which
// applies a shared token-bucket rate limit and bounds each send with a
// timeout. Sends are never retried; the outcome is published on the event bus
// (notifier.sent / notifier.failed) where the audit trail and metrics pick it
// up.
package notifier
