// Package chat contains the chat-side core of the relay.
//
// It provides:
//   - Parse: decodes one tag-annotated IRC line (PRIVMSG or PING) into a Message.
//     Malformed input never errors; it yields a zero Message.
//   - Router: authorizes "!command" messages by sender class (owner, admin,
//     moderator, public) and charges a RateLimiter (burst ceiling of 20 per
//     30s window, 2s cooldown that owners and admins skip).
//   - Session: the event loop tying a transport to the router, answering PINGs
//     and running dispatched handlers off-loop with a bounded context.
//   - Scheduler: session-owned deferred tasks, cancelled on shutdown.
//   - EventBridge: relays backend events into chat, bypassing the router.
package chat
