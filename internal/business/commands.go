package business

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/vmware-session/internal/config"
	"github.com/openkcm/vmware-session/pkg/property"
	"github.com/openkcm/vmware-session/pkg/session"
	"github.com/openkcm/vmware-session/pkg/task"
	"github.com/openkcm/vmware-session/pkg/transport"
)

const (
	defaultTaskType  = "Task"
	defaultLeaseType = "HttpNfcLease"
	listPageSize     = 100
)

// TaskView is what wait-task prints.
type TaskView struct {
	Task     string          `json:"task"`
	State    task.State      `json:"state"`
	Progress int             `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Faults   []string        `json:"faults,omitempty"`
	Polls    int             `json:"polls"`
}

// ObjectView is one entry of the list output.
type ObjectView struct {
	Object     string                     `json:"object"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
}

// SessionView is what the session commands print.
type SessionView struct {
	Session   string `json:"session"`
	UserName  string `json:"userName,omitempty"`
	Active    *bool  `json:"active,omitempty"`
	LoggedOut bool   `json:"loggedOut,omitempty"`
}

// InvokeMain calls args[0] on the object args[1], passing the JSON object
// args[2] as arguments, and prints the result.
func InvokeMain(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	method := args[0]

	var target transport.Ref
	if len(args) > 1 && args[1] != "" && args[1] != "-" {
		var err error
		target, err = transport.ParseRef(args[1], "")
		if err != nil {
			return err
		}
	}

	var callArgs map[string]any
	if len(args) > 2 {
		if err := json.Unmarshal([]byte(args[2]), &callArgs); err != nil {
			return fmt.Errorf("parsing call arguments: %w", err)
		}
	}

	c, closeFn, err := NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the client: %w", err)
	}
	defer closeFn(context.WithoutCancel(ctx))

	result, err := c.Invoke(ctx, method, target, callArgs)
	if err != nil {
		return err
	}

	return writeJSON(out, result)
}

// WaitTaskMain waits for the task args[0] and prints its final status. A
// failed task is printed and then returned as the error.
func WaitTaskMain(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	ref, err := transport.ParseRef(args[0], defaultTaskType)
	if err != nil {
		return err
	}

	c, closeFn, err := NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the client: %w", err)
	}
	defer closeFn(context.WithoutCancel(ctx))

	opts := cfg.TaskPoll.Options()
	opts.OnProgress = func(s task.Status) {
		slogctx.Info(ctx, "Task in progress", "task", ref.Value, "progress", s.Progress)
	}

	status, err := c.WaitForTaskWith(ctx, ref, opts)
	if status.State == "" {
		return err
	}

	view := TaskView{
		Task:     ref.String(),
		State:    status.State,
		Progress: status.Progress,
		Result:   status.Result,
		Polls:    status.Polls,
	}
	if status.Fault != nil {
		view.Error = status.Fault.Message
		view.Faults = status.Fault.Names
	}

	if werr := writeJSON(out, view); werr != nil {
		return werr
	}

	return err
}

func WaitLeaseMain(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	ref, err := transport.ParseRef(args[0], defaultLeaseType)
	if err != nil {
		return err
	}

	c, closeFn, err := NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the client: %w", err)
	}
	defer closeFn(context.WithoutCancel(ctx))

	if err := c.WaitForLease(ctx, ref); err != nil {
		return err
	}

	return writeJSON(out, map[string]string{"lease": ref.String(), "state": "ready"})
}

// ListMain prints every object of type args[0] with the properties named by
// the remaining args, or just its name.
func ListMain(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	c, closeFn, err := NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the client: %w", err)
	}
	defer closeFn(context.WithoutCancel(ctx))

	objects, err := c.Collect(ctx, property.Spec{
		Type:       args[0],
		PathSet:    args[1:],
		MaxObjects: listPageSize,
	})
	if err != nil {
		return err
	}

	views := make([]ObjectView, 0, len(objects))
	for _, o := range objects {
		views = append(views, ObjectView{Object: o.Obj.String(), Properties: o.Properties()})
	}

	return writeJSON(out, views)
}

// SessionCheckMain logs in if needed and asks the controller whether the
// session is still accepted.
func SessionCheckMain(ctx context.Context, cfg *config.Config, _ []string, out io.Writer) error {
	c, closeFn, err := NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the client: %w", err)
	}
	defer closeFn(context.WithoutCancel(ctx))

	s, err := c.Login(ctx)
	if err != nil {
		return err
	}

	active, err := c.Active(ctx)
	if err != nil {
		return err
	}

	return writeJSON(out, SessionView{
		Session:  session.TruncKey(s.Key),
		UserName: s.UserName,
		Active:   &active,
	})
}

// SessionLogoutMain ends the session, including one published in valkey.
func SessionLogoutMain(ctx context.Context, cfg *config.Config, _ []string, out io.Writer) error {
	c, closeFn, err := NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the client: %w", err)
	}
	defer closeFn(context.WithoutCancel(ctx))

	s, err := c.Login(ctx)
	if err != nil {
		return err
	}

	c.Logout(ctx)

	return writeJSON(out, SessionView{
		Session:   session.TruncKey(s.Key),
		UserName:  s.UserName,
		LoggedOut: true,
	})
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	return nil
}
