/*
Package decoder maps feed events to the opaque payload bytes carried by
records.

The pipeline treats decoding as an external concern behind one
interface; program-specific decoders plug in without the core knowing
their shapes.

# Architecture

	 admitted event
	      │
	      ▼
	┌─────────────────────────────────────┐
	│              Registry               │
	│                                     │
	│  account update ──▶ byOwner[owner]  │──▶ program decoder
	│  (owner registered)                 │
	│                                     │
	│  everything else ──▶ fallback       │──▶ EncodeJSON
	└─────────────────────────────────────┘

# Contract

	type Decoder interface {
	    Decode(ev types.Event) ([]byte, error)
	}

Decoders are pure: same event, same bytes. A decoder error never fails
the worker - the worker emits the record anyway with an empty payload
and classification Unknown, and increments
ledgertap_decoder_errors_total. An empty payload with a nil error is
legitimate output and is carried as-is.

# Registry

Account updates route by owner pubkey (the program owning the account);
transactions and unregistered owners fall back to the default, which
re-encodes the raw event as JSON with base58 identifiers:

	reg := decoder.NewRegistry()
	reg.Register(tokenProgram, tokenAccountDecoder)
	reg.SetFallback(decoder.Func(myEncoder))

Registration is safe at runtime; the registry is internally locked.

# See Also

  - pkg/supervisor - the worker applies the empty-payload policy
  - pkg/types - the event shapes decoders receive
*/
package decoder
