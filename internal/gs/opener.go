package gs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Opener connects to Cloud Storage on first use and hands out contexts
// sharing that client.
type Opener struct {
	CredentialsFile string
	DryRun          bool
	RequestTimeout  time.Duration
	Logger          *slog.Logger

	mu      sync.Mutex
	storage Storage
}

// Open returns a Context backed by the shared client. Each caller gets its
// own Context so it may toggle DryRun without affecting others.
func (o *Opener) Open(ctx context.Context) (*Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.storage == nil {
		st, err := NewCloudStorage(ctx, o.CredentialsFile)
		if err != nil {
			return nil, err
		}
		o.storage = st
	}
	return NewContext(o.storage, o.DryRun, o.RequestTimeout, o.Logger), nil
}

// Close releases the client, if one was opened.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.storage == nil {
		return nil
	}
	err := o.storage.Close()
	o.storage = nil
	return err
}
