// Package domain defines the core types of the email-to-CRM pipeline:
// canonical messages, extracted tasks/deals/contacts, and the per-message
// processing log.
//
// Types here are value objects with no database or HTTP concerns. They are
// the shared language between the mailbox client, the pipeline, the store,
// and the API handlers.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No clients, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Constructors validate; constants and enums belong here
package domain
