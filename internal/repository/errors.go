package repository

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidCredential = errors.New("credential requires workspace and access token")
	// ErrStoreUnavailable marks failures to reach the backing store at all
	// (connection refused, timeouts, network errors), as opposed to query errors.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// storeErr wraps err with op and tags it with ErrStoreUnavailable when it looks like a connectivity problem.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return true
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
