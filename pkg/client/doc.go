/*
Package client wraps the control-plane HTTP API for the ledgertap CLI
and other Go callers.

# Usage

	c := client.NewClient("localhost:8080")

	interests, err := c.ListInterests(ctx)

	resp, err := c.UpsertInterest(ctx, client.UpsertRequest{
	    InterestID: "I1",
	    TxInclude:  []string{"<base58 pubkey>"},
	})

	resp, err = c.RemoveInterest(ctx, "I1")

Mutations block until the pipeline acknowledged the topology change,
mirroring the server's two-phase protocol; a rejected mutation returns
the server's message as the error alongside the decoded response
envelope.

The live tap (/live, WebSocket) and the metrics endpoint are consumed
directly, not through this package.

# See Also

  - pkg/api - the surface this package speaks to
  - cmd/ledgertap - the interest subcommands built on it
*/
package client
