// Package notifier turns solve events into chat announcements.
//
// Each event becomes one message sent through a kit.Adapter (Discord or
// Telegram). Sends are throttled by a token bucket shared by all events. A
// successful send is followed by a best-effort reaction on the new message;
// a failed reaction is logged and never reported to the caller.
package notifier
