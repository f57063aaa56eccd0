package gorcv

import (
	"context"
	"fmt"
	"time"

	"github.com/danl5/gorcv/pkg/common"
	"github.com/danl5/gorcv/pkg/model"
)

// Clock supplies the current time compared against the deadline.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using wall-clock UTC time.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// Authorizer decides whether caller may run an administrative action.
// It returns nil to allow the call.
type Authorizer interface {
	Authorize(ctx context.Context, caller string, action common.Action) error
}

// AllowAll authorizes every caller.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, common.Action) error {
	return nil
}

// AdminList authorizes a fixed set of callers for every action.
type AdminList map[string]struct{}

func NewAdminList(admins ...string) AdminList {
	l := make(AdminList, len(admins))
	for _, a := range admins {
		l[a] = struct{}{}
	}
	return l
}

func (l AdminList) Authorize(_ context.Context, caller string, action common.Action) error {
	if _, ok := l[caller]; !ok {
		return fmt.Errorf("%w: %q may not %s", model.ErrForbidden, caller, action)
	}
	return nil
}
