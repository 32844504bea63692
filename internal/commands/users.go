package commands

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/taxdesk/taxdesk-cli/internal/appctx"
	"github.com/taxdesk/taxdesk-cli/internal/clock"
	"github.com/taxdesk/taxdesk-cli/internal/filter"
	"github.com/taxdesk/taxdesk-cli/internal/models"
	"github.com/taxdesk/taxdesk-cli/internal/mutation"
	"github.com/taxdesk/taxdesk-cli/internal/output"
	"github.com/taxdesk/taxdesk-cli/internal/tui"
	"github.com/taxdesk/taxdesk-cli/internal/users"
)

// Interactive entry points, replaced in tests.
var (
	confirmDelete = tui.ConfirmDelete
	runBrowser    = tui.Browse
)

// NewUsersCmd creates the users command group.
func NewUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "users",
		Aliases: []string{"user"},
		Short:   "List and manage tenant users",
		Long:    "List, filter, watch, browse, create, update and delete users of the current tenant.",
	}

	cmd.AddCommand(
		newUsersListCmd(),
		newUsersWatchCmd(),
		newUsersBrowseCmd(),
		newUsersCreateCmd(),
		newUsersUpdateCmd(),
		newUsersDeleteCmd(),
		newUsersCooldownCmd(),
	)
	return cmd
}

type listFlags struct {
	search     string
	role       string
	status     string
	department string
	tier       string
	page       int
	limit      int
	sortBy     string
	sortOrder  string
}

func (lf *listFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&lf.search, "search", "s", "", "Match name or email")
	cmd.Flags().StringVar(&lf.role, "role", "", "Filter by role ("+strings.Join(models.Roles, ", ")+")")
	cmd.Flags().StringVar(&lf.status, "status", "", "Filter by status ("+strings.Join(models.Statuses, ", ")+")")
	cmd.Flags().StringVar(&lf.department, "department", "", "Filter by department")
	cmd.Flags().StringVar(&lf.tier, "tier", "", "Filter by tier")
	cmd.Flags().IntVar(&lf.page, "page", 1, "Page number")
	cmd.Flags().IntVarP(&lf.limit, "limit", "n", 0, "Page size (default from config)")
	cmd.Flags().StringVar(&lf.sortBy, "sort", "createdAt", "Sort field")
	cmd.Flags().StringVar(&lf.sortOrder, "order", "desc", "Sort order (asc, desc)")
}

// filters validates the flags against the known vocabularies.
func (lf *listFlags) filters(defaultLimit int) (filter.Filters, error) {
	role, err := oneOf("role", lf.role, models.Roles)
	if err != nil {
		return filter.Filters{}, err
	}
	status, err := oneOf("status", lf.status, models.Statuses)
	if err != nil {
		return filter.Filters{}, err
	}
	order := strings.ToLower(lf.sortOrder)
	if order != "" && order != "asc" && order != "desc" {
		return filter.Filters{}, output.ErrUsageHint("Invalid --order: "+lf.sortOrder, "Use asc or desc")
	}
	limit := lf.limit
	if limit <= 0 {
		limit = defaultLimit
	}
	return filter.Filters{
		Search:     strings.TrimSpace(lf.search),
		Role:       role,
		Status:     status,
		Department: lf.department,
		Tier:       lf.tier,
		Page:       lf.page,
		Limit:      limit,
		SortBy:     lf.sortBy,
		SortOrder:  order,
	}, nil
}

// oneOf normalizes v to upper case and checks it against allowed.
func oneOf(name, v string, allowed []string) (string, error) {
	if v == "" {
		return "", nil
	}
	up := strings.ToUpper(v)
	if !slices.Contains(allowed, up) {
		return "", output.ErrUsageHint(
			fmt.Sprintf("Invalid --%s: %s", name, v),
			"Use one of "+strings.Join(allowed, ", "),
		)
	}
	return up, nil
}

func newUsersListCmd() *cobra.Command {
	var lf listFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users with server-side filters",
		Long: `List users of the current tenant. Filters are applied by the server;
"ALL" for --role or --status matches everything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			f, err := lf.filters(app.Config.PageSize)
			if err != nil {
				return err
			}

			hook := app.NewFilterHook(f)
			if err := hook.Refresh(cmd.Context()); err != nil {
				return err
			}
			st := hook.State()
			return app.OK(st.Users,
				output.WithSummary(pageSummary(st)),
				output.WithContext("filters", st.Filters),
				output.WithMeta("pagination", st.Pagination),
			)
		},
	}
	lf.register(cmd)
	return cmd
}

type watchFlags struct {
	page     int
	limit    int
	interval time.Duration
	count    int
	parallel int
}

// watchTick is one refresh of users watch.
type watchTick struct {
	Tick     int    `json:"tick"`
	Users    int    `json:"users"`
	Requests int    `json:"requests"`
	CacheHit bool   `json:"cache_hit"`
	Elapsed  string `json:"elapsed"`
}

func newUsersWatchCmd() *cobra.Command {
	var wf watchFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh a page of users on an interval",
		Long: `Fetch the same page repeatedly through the cached users service.
Refreshes inside the cache TTL are served locally, and --parallel callers
within one refresh share a single request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if wf.limit <= 0 {
				wf.limit = app.Config.PageSize
			}
			if wf.parallel < 1 {
				return output.ErrUsage("--parallel must be at least 1")
			}
			return runWatch(cmd.Context(), app, wf)
		},
	}
	cmd.Flags().IntVar(&wf.page, "page", 1, "Page number")
	cmd.Flags().IntVarP(&wf.limit, "limit", "n", 0, "Page size (default from config)")
	cmd.Flags().DurationVar(&wf.interval, "interval", 5*time.Second, "Time between refreshes")
	cmd.Flags().IntVar(&wf.count, "refreshes", 3, "Number of refreshes (0 runs until interrupted)")
	cmd.Flags().IntVar(&wf.parallel, "parallel", 1, "Concurrent callers per refresh")
	return cmd
}

func runWatch(ctx context.Context, app *appctx.App, wf watchFlags) error {
	var (
		ticks  []watchTick
		latest []models.User
	)
	for tick := 1; wf.count == 0 || tick <= wf.count; tick++ {
		before := app.Collector.Summary()
		start := app.Clock().Now()

		results := make([][]models.User, wf.parallel)
		g, gctx := errgroup.WithContext(ctx)
		for i := range wf.parallel {
			g.Go(func() error {
				list, err := app.Users.FetchUsers(gctx, wf.page, wf.limit)
				results[i] = list
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		latest = results[0]

		after := app.Collector.Summary()
		t := watchTick{
			Tick:     tick,
			Users:    len(latest),
			Requests: after.TotalRequests - before.TotalRequests,
			CacheHit: after.CacheHits > before.CacheHits && after.TotalRequests == before.TotalRequests,
			Elapsed:  app.Clock().Now().Sub(start).Round(time.Millisecond).String(),
		}
		ticks = append(ticks, t)
		if !app.Flags.MachineOutput() {
			fmt.Fprintln(app.Stderr(), tickLine(t))
		}

		if wf.count != 0 && tick == wf.count {
			break
		}
		if !clock.Sleep(app.Clock(), wf.interval, ctx.Done()) {
			return output.ErrCanceled(ctx.Err())
		}
	}

	return app.OK(latest,
		output.WithSummary(watchSummary(ticks)),
		output.WithMeta("ticks", ticks),
	)
}

func newUsersBrowseCmd() *cobra.Command {
	var lf listFlags
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse users interactively",
		Long: `Open an interactive table over the filtered listing.
Keys: n/p page, / search, r cycle role, s cycle status, q quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if !app.IsInteractive() {
				return output.ErrUsageHint("browse needs an interactive terminal", "Use `taxdesk users list` instead")
			}
			f, err := lf.filters(app.Config.PageSize)
			if err != nil {
				return err
			}
			return runBrowser(cmd.Context(), app.NewFilterHook(f))
		},
	}
	lf.register(cmd)
	return cmd
}

func newUsersCreateCmd() *cobra.Command {
	var req models.CreateUserRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if !strings.Contains(req.Email, "@") {
				return output.ErrUsage("Invalid --email: " + req.Email)
			}
			role, err := oneOf("role", req.Role, models.Roles[1:])
			if err != nil {
				return err
			}
			req.Role = role

			res := app.Mutations.Submit(cmd.Context(), mutation.Request{
				Method:     http.MethodPost,
				URL:        app.UsersURL(),
				Body:       req,
				Invalidate: usersInvalidation(),
			})
			if !res.OK {
				return res.Err
			}
			user := decodeUser(res, models.User{Name: req.Name, Email: req.Email, Role: req.Role})
			return app.OK(user, output.WithSummary(fmt.Sprintf("Created %s <%s>", user.Name, user.Email)))
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Full name")
	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&req.Role, "role", "", "Role (ADMIN, MANAGER, ACCOUNTANT, STAFF, CLIENT)")
	cmd.Flags().StringVar(&req.Department, "department", "", "Department")
	cmd.Flags().StringVar(&req.Tier, "tier", "", "Tier")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newUsersUpdateCmd() *cobra.Command {
	var role, status, department, tier string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a user's role, status, department or tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			var req models.UpdateUserRequest

			flags := cmd.Flags()
			if flags.Changed("role") {
				v, err := oneOf("role", role, models.Roles[1:])
				if err != nil {
					return err
				}
				req.Role = &v
			}
			if flags.Changed("status") {
				v, err := oneOf("status", status, models.Statuses[1:])
				if err != nil {
					return err
				}
				req.Status = &v
			}
			if flags.Changed("department") {
				req.Department = &department
			}
			if flags.Changed("tier") {
				req.Tier = &tier
			}
			if req.Empty() {
				return output.ErrUsageHint("Nothing to update", "Pass --role, --status, --department or --tier")
			}

			res := app.Mutations.Submit(cmd.Context(), mutation.Request{
				Method:     http.MethodPatch,
				URL:        app.UserURL(args[0]),
				Body:       req,
				Invalidate: usersInvalidation(),
			})
			if !res.OK {
				return notFoundAs(res, args[0])
			}
			user := decodeUser(res, models.User{ID: args[0]})
			return app.OK(user, output.WithSummary("Updated user "+args[0]))
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "New role")
	cmd.Flags().StringVar(&status, "status", "", "New status")
	cmd.Flags().StringVar(&department, "department", "", "New department")
	cmd.Flags().StringVar(&tier, "tier", "", "New tier")
	return cmd
}

// deleteResult is the output of users delete.
type deleteResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func newUsersDeleteCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			id := args[0]

			if !force {
				if !app.IsInteractive() {
					return output.ErrUsageHint("Refusing to delete without confirmation", "Pass --force")
				}
				ok, err := confirmDelete(id)
				if err != nil {
					return output.ErrCanceled(err)
				}
				if !ok {
					return output.ErrCanceled(nil)
				}
			}

			res := app.Mutations.Submit(cmd.Context(), mutation.Request{
				Method:     http.MethodDelete,
				URL:        app.UserURL(id),
				Invalidate: usersInvalidation(),
			})
			if !res.OK {
				return notFoundAs(res, id)
			}
			return app.OK(deleteResult{ID: id, Deleted: true}, output.WithSummary("Deleted user "+id))
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt")
	return cmd
}

type cooldownResult struct {
	Blocked  bool `json:"blocked"`
	RetryIn  int  `json:"retry_in_seconds"`
	WasReset bool `json:"reset,omitempty"`
}

func newUsersCooldownCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "cooldown",
		Short: "Show or lift the rate-limit cooldown",
		Long: `Show how long listing requests stay blocked after the server kept
answering 429. The block is shared by every taxdesk process on this machine.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := appctx.FromContext(cmd.Context())
			if reset {
				if err := app.Cooldown.Reset(); err != nil {
					return fmt.Errorf("resetting cooldown: %w", err)
				}
				return app.OK(cooldownResult{WasReset: true}, output.WithSummary("Cooldown lifted"))
			}

			wait := app.Cooldown.Remaining()
			res := cooldownResult{Blocked: wait > 0, RetryIn: int(math.Ceil(wait.Seconds()))}
			summary := "Not rate limited"
			if res.Blocked {
				summary = fmt.Sprintf("Rate limited, retry in %ds", res.RetryIn)
			}
			return app.OK(res, output.WithSummary(summary))
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "Lift the block now")
	return cmd
}

// usersInvalidation drops every cached listing page.
func usersInvalidation() []mutation.Invalidation {
	return []mutation.Invalidation{mutation.Prefix(users.KeyPrefix)}
}

// decodeUser returns the server's copy of the user, or fallback when the
// response carried no body.
func decodeUser(res mutation.Result, fallback models.User) models.User {
	var u models.User
	if err := res.Decode(&u); err != nil || u.ID == "" && u.Email == "" {
		return fallback
	}
	return u
}

// notFoundAs names the user in 404 errors.
func notFoundAs(res mutation.Result, id string) error {
	if res.Status == http.StatusNotFound {
		return output.ErrNotFound("user", id)
	}
	return res.Err
}
