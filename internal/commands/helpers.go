package commands

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/cenkalti/backoff/v4"
	"github.com/fatih/color"
	"github.com/tildaslashalef/kbpicker/internal/app"
	"github.com/tildaslashalef/kbpicker/internal/engine"
	"github.com/tildaslashalef/kbpicker/internal/lockfile"
	"github.com/tildaslashalef/kbpicker/internal/loggy"
	"github.com/tildaslashalef/kbpicker/internal/resource"
	"github.com/tildaslashalef/kbpicker/internal/stackai"
	"github.com/tildaslashalef/kbpicker/internal/utils"
	"github.com/urfave/cli/v2"
)

var retriesFlag = &cli.IntFlag{
	Name:  "retries",
	Usage: "Retry transient API failures this many times",
	Value: 2,
}

var connectionFlag = &cli.StringFlag{
	Name:    "connection",
	Aliases: []string{"c"},
	Usage:   "Connection id (default: the stored one, or the first connection of the configured provider)",
}

// requireAuth fails early when there is no session token
func requireAuth(a *app.App) error {
	if !a.Client.Session().Authenticated() {
		utils.PrintError("Not logged in. Run " + color.CyanString("kbpicker login") + " first.")
		return stackai.ErrAuthRequired
	}
	return nil
}

// withRetry runs op until it succeeds, fails permanently or runs out of
// retries. Auth and input errors are never retried.
func withRetry(ctx context.Context, retries int, name string, op func() error) error {
	if retries <= 0 {
		return op()
	}

	attempt := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries)), ctx)
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		loggy.Warn("Operation failed, retrying", "operation", name, "attempt", attempt, "error", err)
		return err
	}, policy)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, stackai.ErrAuthRequired),
		errors.Is(err, engine.ErrNoConnection),
		errors.Is(err, resource.ErrPathNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var apiErr *stackai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// transport failures
	return true
}

// withLock holds the active knowledge-base lock for the duration of fn
func withLock(ctx context.Context, a *app.App, fn func(ctx context.Context) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, a.Config.KnowledgeBase.LockTimeout)
	err := a.Lock.Lock(lockCtx)
	cancel()
	if err != nil {
		if errors.Is(err, lockfile.ErrTimeout) {
			utils.PrintError("Another kbpicker process is modifying the knowledge base")
		}
		return err
	}
	defer func() {
		if err := a.Lock.Unlock(); err != nil {
			loggy.Warn("Failed to release lock", "error", err)
		}
	}()
	return fn(ctx)
}

// connectionFor picks the connection from the flag, the engine or a lookup
func connectionFor(ctx context.Context, c *cli.Context, a *app.App, e *engine.Engine) (string, error) {
	if id := c.String(connectionFlag.Name); id != "" {
		return id, nil
	}
	if id := e.ConnectionID(); id != "" {
		return id, nil
	}
	return a.ConnectionID(ctx)
}

// refreshParent reconciles the statuses of p and its siblings against the
// knowledge base
func refreshParent(ctx context.Context, e *engine.Engine, p string) {
	parent := path.Dir(resource.NormalizePath(p))
	if _, err := e.Refresh(ctx, parent); err != nil {
		loggy.Debug("Failed to refresh knowledge base folder", "path", parent, "error", err)
	}
}

// reportError prints err with a hint for its kind
func reportError(action string, err error) error {
	msg := fmt.Sprintf("%s failed: %s", action, err)
	switch engine.ErrorKind(err) {
	case "auth":
		msg += "\nRun " + color.CyanString("kbpicker login") + " to sign in again."
	case "no_connection":
		msg += "\nPass " + color.CyanString("--connection") + " or connect a storage provider first."
	}
	utils.PrintError(msg)
	return err
}
