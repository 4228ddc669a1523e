package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/harrisonrobin/taskweave/pkg/auth"
	"github.com/harrisonrobin/taskweave/pkg/dates"
	"github.com/harrisonrobin/taskweave/pkg/model"
	"github.com/harrisonrobin/taskweave/pkg/recurrence"
)

func newFlags(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

// oneArg parses flags and returns the single positional argument.
func oneArg(fs *pflag.FlagSet, args []string, what string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s: expected %s", fs.Name(), what)
	}
	return fs.Arg(0), nil
}

func runReconcile(ctx context.Context, a *app, args []string) error {
	fs := newFlags("reconcile")
	doc := fs.String("doc", "", "document id")
	file := fs.String("file", "", "read the document from this file instead of stdin")
	write := fs.Bool("write", false, "write the annotated document back to --file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *doc == "" {
		return errors.New("reconcile: --doc is required")
	}

	var (
		raw []byte
		err error
	)
	if *file != "" {
		raw, err = os.ReadFile(*file)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("error reading document: %w", err)
	}

	res, err := a.svc.Reconcile(ctx, *doc, string(raw))
	if res != nil && res.Result != nil {
		log.Info().
			Str("document_id", *doc).
			Int("created", len(res.Created)).
			Int("updated", len(res.Updated)).
			Int("deleted", len(res.DeletedIDs)).
			Int("failed", len(res.Failures)).
			Msg("reconciled")
	}
	if err != nil {
		return err
	}

	if *write && *file != "" {
		return os.WriteFile(*file, []byte(res.Text), 0o644)
	}
	_, err = io.WriteString(a.out, res.Text)
	return err
}

func runComplete(ctx context.Context, a *app, args []string) error {
	id, err := oneArg(newFlags("complete"), args, "a task id")
	if err != nil {
		return err
	}
	c, err := a.svc.CompleteTask(ctx, id)
	if err != nil {
		return err
	}
	printTask(a.out, c.Task)
	if c.Successor != nil {
		fmt.Fprint(a.out, "next: ")
		printTask(a.out, c.Successor)
	}
	return nil
}

func runReopen(ctx context.Context, a *app, args []string) error {
	id, err := oneArg(newFlags("reopen"), args, "a task id")
	if err != nil {
		return err
	}
	c, err := a.svc.SetCompletion(ctx, id, false)
	if err != nil {
		return err
	}
	printTask(a.out, c.Task)
	return nil
}

func runDelete(ctx context.Context, a *app, args []string) error {
	id, err := oneArg(newFlags("delete"), args, "a task id")
	if err != nil {
		return err
	}
	return a.svc.DeleteTask(ctx, id)
}

func runLink(ctx context.Context, a *app, args []string) error {
	fs := newFlags("link")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("link: expected a task id and a task list resource id")
	}
	t, err := a.svc.LinkTask(ctx, fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	printTask(a.out, t)
	return nil
}

func runRepeat(ctx context.Context, a *app, args []string) error {
	fs := newFlags("repeat")
	clearRule := fs.Bool("clear", false, "remove the rule")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || (fs.NArg() == 1 && !*clearRule) {
		return errors.New("repeat: expected a task id and a rule, e.g. repeat ID every 2 weeks")
	}
	text := ""
	if !*clearRule {
		text = strings.Join(fs.Args()[1:], " ")
	}
	t, err := a.svc.SetRecurrence(ctx, fs.Arg(0), text)
	if err != nil {
		return err
	}
	printTask(a.out, t)
	return nil
}

func runShow(ctx context.Context, a *app, args []string) error {
	fs := newFlags("show")
	doc := fs.String("doc", "", "print a stored document")
	events := fs.String("events", "", "list the events of an event calendar resource")
	resources := fs.Bool("resources", false, "list configured resources")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case *doc != "":
		d, err := a.svc.Document(ctx, *doc)
		if err != nil {
			return err
		}
		_, err = io.WriteString(a.out, d.Content)
		return err
	case *events != "":
		list, err := a.svc.Events(ctx, *events)
		if err != nil {
			return err
		}
		for _, e := range list {
			start := "          "
			if e.Start != nil {
				start = dates.Format(*e.Start)
			}
			fmt.Fprintf(a.out, "%s  %s\n", start, e.Summary)
		}
		return nil
	case *resources:
		list, err := a.svc.Resources(ctx)
		if err != nil {
			return err
		}
		for _, r := range list {
			fmt.Fprintf(a.out, "%s  %-14s %-20s %s (%s)\n", r.ID, r.Kind, r.DisplayName, r.Endpoint, r.Credentials)
		}
		return nil
	case fs.NArg() == 1:
		t, err := a.svc.Task(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		printTask(a.out, t)
		if len(t.Contexts) > 0 {
			fmt.Fprintf(a.out, "  documents: %s\n", strings.Join(t.Contexts, ", "))
		}
		if t.ExternalUID != "" {
			fmt.Fprintf(a.out, "  remote: %s/%s\n", t.ResourceID, t.ExternalUID)
		}
		return nil
	}

	tasks, err := a.svc.Tasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		printTask(a.out, t)
	}
	return nil
}

func printTask(w io.Writer, t *model.Task) {
	box := "[ ]"
	if t.Done() {
		box = "[x]"
	}
	line := fmt.Sprintf("%s %s %s", t.ID, box, t.Content)
	if t.Due != nil {
		line += " @" + dates.Format(*t.Due)
	}
	if t.Rule != nil {
		line += " (" + recurrence.Format(t.Rule) + ")"
	}
	fmt.Fprintln(w, line)
}

func runAuth(ctx context.Context, a *app, args []string) error {
	fs := newFlags("auth")
	account := fs.String("account", a.cfg.DefaultAccount, "account name the token is stored under")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := auth.Authorize(ctx, *account); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	log.Info().Str("account", *account).Msg("authentication successful")
	return nil
}

func runDiscover(ctx context.Context, a *app, args []string) error {
	fs := newFlags("discover")
	account := fs.String("account", a.cfg.DefaultAccount, "account to list collections of")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cols, err := a.svc.Discover(ctx, *account)
	if err != nil {
		return err
	}
	for _, c := range cols {
		fmt.Fprintf(a.out, "%-14s %-40s %s\n", c.Kind, c.ResourceURL, c.DisplayName)
	}
	return nil
}

func runAddResource(ctx context.Context, a *app, args []string) error {
	fs := newFlags("add-resource")
	endpoint := fs.String("endpoint", "", "resource url (id) from discover")
	kind := fs.String("kind", string(model.TaskList), "task_list or event_calendar")
	name := fs.String("name", "", "display name")
	account := fs.String("account", a.cfg.DefaultAccount, "account used to reach the resource")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := a.svc.ConfigureResource(ctx, *endpoint, *account, *name, model.ResourceKind(*kind))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, id)
	return nil
}

func runRemoveResource(ctx context.Context, a *app, args []string) error {
	id, err := oneArg(newFlags("remove-resource"), args, "a resource id")
	if err != nil {
		return err
	}
	return a.svc.RemoveResource(ctx, id)
}

func runSync(ctx context.Context, a *app, args []string) error {
	fs := newFlags("sync")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rep, err := a.svc.SyncNow(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "pulled %d, pushed %d, skipped %d tombstoned\n", rep.Pulled, rep.Pushed, rep.SkippedTombstoned)
	for _, e := range rep.Errors {
		fmt.Fprintf(a.out, "error: %v\n", e)
	}
	if len(rep.Errors) > 0 {
		return fmt.Errorf("%d sync errors", len(rep.Errors))
	}
	return nil
}

func runDaemon(ctx context.Context, a *app, args []string) error {
	fs := newFlags("daemon")
	interval := fs.Duration("interval", a.cfg.Interval(), "time between sync passes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	log.Info().Dur("interval", *interval).Msg("starting sync daemon")
	err := a.svc.RunSync(ctx, *interval)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("sync daemon stopped")
		return nil
	}
	return err
}

func runPrune(ctx context.Context, a *app, args []string) error {
	fs := newFlags("prune-tombstones")
	olderThan := fs.Duration("older-than", a.cfg.Retention(), "drop tombstones older than this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	n, err := a.svc.PruneTombstones(ctx, *olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "pruned %d tombstones older than %s\n", n, olderThan.Round(time.Hour))
	return nil
}
