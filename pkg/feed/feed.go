package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/ledgertap/pkg/types"
)

// ErrSessionClosed is returned by Recv after the session is closed locally.
var ErrSessionClosed = errors.New("feed session closed")

// FatalError marks a feed failure reconnecting cannot fix: rejected
// credentials, protocol violations. The supervisor parks the interest
// instead of retrying.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal feed error: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Source opens feed sessions. One session per worker; sessions are never
// shared.
type Source interface {
	// Subscribe opens a session scoped to the predicate. It returns once
	// the feed has acknowledged the subscription.
	Subscribe(ctx context.Context, interestID string, pred types.Predicate) (Session, error)
}

// Session is one live subscription: a lazy sequence of events.
type Session interface {
	// Recv blocks for the next event. Any error terminates the session;
	// IsFatal distinguishes errors not worth reconnecting for.
	Recv() (types.Event, error)
	// Close tears the session down and unblocks a pending Recv.
	Close() error
}
