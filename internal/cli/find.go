package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fsidx/internal/fieldsearch"
	"github.com/roach88/fsidx/internal/query"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	Fields     []string
	MaxResults int
	All        bool
}

// FindResult is the find command output: one or more result pages.
type FindResult struct {
	Query string      `json:"query"`
	Pages []*FindPage `json:"pages"`
	order []string    // requested fields, for text output
}

// FindPage is one result page.
type FindPage struct {
	Objects          []fieldsearch.ObjectFields `json:"objects"`
	Cursor           int64                      `json:"cursor"`
	CompleteListSize int64                      `json:"complete_list_size"`
	Token            string                     `json:"token,omitempty"`
	Expires          *time.Time                 `json:"expires,omitempty"`
}

func newFindPage(res *fieldsearch.Result) *FindPage {
	p := &FindPage{
		Objects:          res.Objects,
		Cursor:           res.Cursor,
		CompleteListSize: res.CompleteListSize,
		Token:            res.Token,
	}
	if p.Objects == nil {
		p.Objects = []fieldsearch.ObjectFields{}
	}
	if !res.Expires.IsZero() {
		exp := res.Expires
		p.Expires = &exp
	}
	return p
}

func (r FindResult) String() string {
	var b strings.Builder
	n := 0
	for _, p := range r.Pages {
		for _, o := range p.Objects {
			b.WriteString(o.PID)
			for _, field := range r.order {
				if field == query.FieldPID {
					continue
				}
				for _, v := range o.Fields[field] {
					fmt.Fprintf(&b, "\t%s=%s", field, v)
				}
			}
			b.WriteByte('\n')
			n++
		}
	}
	if len(r.Pages) > 0 {
		last := r.Pages[len(r.Pages)-1]
		fmt.Fprintf(&b, "%d of %d objects", n, last.CompleteListSize)
		if last.Token != "" {
			fmt.Fprintf(&b, " (more with --all)")
		}
	}
	return b.String()
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find [condition...]",
		Short: "Search indexed objects",
		Long: `Search objects with conditions of the form <field><op><value>, where op
is one of = ~ < <= > >=. "~" matches case-insensitively; * and ? in its
value are wildcards, without them it matches a substring. Values with
spaces are single-quoted. All conditions must hold.

A search for only --fields pid with a single identifier condition is
answered from the identifier index.

Example:
  fsidx find --db ./fsidx.db identifier=oai:123
  fsidx find --db ./fsidx.db --fields pid,title "title~'a history*'" --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(cmd, opts, args)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Fields, "fields", []string{query.FieldPID}, "fields to return")
	cmd.Flags().IntVar(&opts.MaxResults, "max", 0, "objects per page (0 = configured maximum)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "fetch every page")

	return cmd
}

func runFind(cmd *cobra.Command, opts *FindOptions, args []string) error {
	f := formatter(cmd, opts.RootOptions)
	conds, err := query.ParseConditions(strings.Join(args, " "))
	if err != nil {
		return f.Fail("find", WrapExitError(ExitCommandError, "invalid query", err))
	}
	q := query.New(conds...)

	m, closeFn, err := openModule(cmd, opts.RootOptions)
	if err != nil {
		return f.Fail("find", err)
	}
	defer closeFn()

	ctx := commandContext(cmd)
	res, err := m.FindObjects(ctx, opts.Fields, opts.MaxResults, q)
	if err != nil {
		return f.Fail("find", err)
	}
	out := FindResult{Query: q.String(), Pages: []*FindPage{newFindPage(res)}, order: opts.Fields}
	for opts.All && res.Token != "" {
		if res, err = m.ResumeFindObjects(ctx, res.Token); err != nil {
			return f.Fail("find", err)
		}
		out.Pages = append(out.Pages, newFindPage(res))
	}
	return f.Success(out)
}
