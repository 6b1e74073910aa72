// Package schema defines the task record and its JSON wire format.
//
// # Wire Format
//
// Tasks travel as flat JSON objects. The same encoding is used for payloads
// inside the replicated document and for bulk import/export:
//
//	{
//	  "uuid": "0b5f3c2e-8d7a-4c1e-9f3b-2a6d4e8c1f70",
//	  "content": "Buy milk",
//	  "is_pinned": false,
//	  "created_at": 1760875200000,
//	  "updated_at": 1760875200000,
//	  "tags": ["home"],
//	  "custom_sort_order": 1760875200000
//	}
//
// Timestamps are epoch milliseconds. custom_sort_order carries the ordering
// weight (see package ordering).
//
// # Defaults
//
// Decode fills missing keys: a fresh uuid, is_pinned=false, timestamps set to
// the supplied now, tags=[] and custom_sort_order=0. updated_at is clamped so
// it never precedes created_at.
//
// # Equality
//
// Equal compares every persisted field, including both timestamps, so a change
// that only moved updated_at is still detected during reconciliation. Tags are
// compared as sets.
package schema
