package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/tableside/api/internal/catalog"
	"github.com/tableside/api/internal/client"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/lifecycle"
	"github.com/tableside/api/internal/model"
	"github.com/tableside/api/internal/optimistic"
)

// --- Account ---

func (a *app) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.api.SignIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", sess.User.Email, sess.User.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", os.Getenv("TABLESIDE_PASSWORD"), "Account password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) signupCmd() *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a customer account",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.api.SignUp(cmd.Context(), email, password, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s\n", sess.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", os.Getenv("TABLESIDE_PASSWORD"), "Account password")
	cmd.Flags().StringVar(&name, "name", "", "Full name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.api.SignOut(cmd.Context())
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ident, err := a.api.CurrentSession(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", ident.ID, ident.Email, ident.Role)
			return nil
		},
	}
}

// --- Menu and cart ---

func (a *app) loadCatalog(ctx context.Context) (*catalog.Snapshot, error) {
	cache := catalog.New(a.api, catalog.Options{})
	if err := cache.Refresh(ctx); err != nil {
		// A partial load is still usable as long as the menu came through.
		if len(cache.Snapshot().MenuItems) == 0 {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return cache.Snapshot(), nil
}

func (a *app) menuCmd() *cobra.Command {
	var categoryID, search string
	cmd := &cobra.Command{
		Use:   "menu",
		Short: "List available menu items and today's offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.loadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			var cat *uuid.UUID
			if categoryID != "" {
				id, err := uuid.Parse(categoryID)
				if err != nil {
					return fmt.Errorf("invalid category id: %w", err)
				}
				cat = &id
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tPRICE\tTOPPINGS")
			for _, it := range snap.AvailableInCategory(cat, search) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.ID, it.Name, it.CategoryName, it.Price.StringFixed(2), formatModifiers(it.Toppings))
			}
			if offers := snap.ActiveOffers(); len(offers) > 0 {
				fmt.Fprintln(tw, "\nOFFER\t\t\tPRICE\tDISCOUNT")
				for _, o := range offers {
					discount := ""
					if pct, ok := o.DiscountPercent(); ok {
						discount = fmt.Sprintf("-%d%%", pct)
					}
					fmt.Fprintf(tw, "%s\t\t\t%s\t%s\n", o.Title, o.NewPrice.StringFixed(2), discount)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&categoryID, "category", "", "Only items in this category")
	cmd.Flags().StringVarP(&search, "search", "q", "", "Match item names")
	return cmd
}

func (a *app) cartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show the cart",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.printCart(cmd.OutOrStdout())
			return nil
		},
	}

	var qty int32
	var toppings []string
	add := &cobra.Command{
		Use:   "add <menu-item-id>",
		Short: "Add an item, with optional toppings by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid menu item id: %w", err)
			}
			snap, err := a.loadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			item, ok := snap.Item(id)
			if !ok || !item.IsAvailable {
				return lifecycle.ErrItemUnavailable
			}
			mods, err := pickToppings(item, toppings)
			if err != nil {
				return err
			}
			if err := a.cart.Add(item, qty, mods); err != nil {
				return err
			}
			a.printCart(cmd.OutOrStdout())
			return nil
		},
	}
	add.Flags().Int32VarP(&qty, "quantity", "n", 1, "Quantity")
	add.Flags().StringSliceVarP(&toppings, "topping", "t", nil, "Topping name (repeatable)")

	remove := &cobra.Command{
		Use:   "remove <line>",
		Short: "Remove a cart line by its number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid line number: %w", err)
			}
			if err := a.cart.Remove(n - 1); err != nil {
				return err
			}
			a.printCart(cmd.OutOrStdout())
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cart.Clear()
			return nil
		},
	}

	cmd.AddCommand(add, remove, clearCmd)
	return cmd
}

func (a *app) printCart(w io.Writer) {
	if a.cart.IsEmpty() {
		fmt.Fprintln(w, "Cart is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tITEM\tQTY\tTOPPINGS\tTOTAL")
	for i, l := range a.cart.Lines() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", i+1, l.Item.Name, l.Quantity, formatModifiers(l.SelectedToppings), l.Total().StringFixed(2))
	}
	fmt.Fprintf(tw, "\t\t\tTOTAL\t%s\n", a.cart.Total().StringFixed(2))
	tw.Flush()
}

// --- Orders ---

func (a *app) checkoutCmd() *cobra.Command {
	var table, name string
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Place the cart as an order for a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			var userID *uuid.UUID
			if sess := a.api.Session(); sess != nil {
				id := sess.User.ID
				userID = &id
				if name == "" {
					name = sess.User.Email
				}
			}
			order, err := a.engine.Checkout(cmd.Context(), a.cart, table, name, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Order %s placed (%s), total %s\n", order.OrderNumber, order.ID, order.TotalAmount.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "Table number")
	cmd.Flags().StringVar(&name, "name", "", "Name for the order (defaults to Guest)")
	return cmd
}

func (a *app) trackCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "track [order-id]",
		Short: "Show an order's status; defaults to the last order placed here",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := ""
			if len(args) == 1 {
				explicit = args[0]
			}
			ctx := cmd.Context()
			order, err := a.engine.ResolveActive(ctx, explicit, a.engine.Remembered())
			if err != nil {
				if errors.Is(err, lifecycle.ErrNoActiveOrder) {
					fmt.Fprintln(cmd.OutOrStdout(), "No recent order to track. Place one with 'tablectl checkout'.")
					return nil
				}
				return err
			}
			if !follow || lifecycle.IsTerminal(order.Status) {
				printOrder(cmd.OutOrStdout(), order)
				return nil
			}

			updates := make(chan model.Order, 8)
			order, sub, err := a.engine.Track(ctx, order.ID, func(o model.Order) {
				select {
				case updates <- o:
				case <-ctx.Done():
				}
			})
			if err != nil {
				return err
			}
			defer sub.Close()
			printOrder(cmd.OutOrStdout(), order)
			if lifecycle.IsTerminal(order.Status) {
				return nil
			}
			last := order.Status
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-sub.Done():
					return sub.Err()
				case o := <-updates:
					// Changes from before the fetch can still arrive.
					if !lifecycle.CanTransition(last, o.Status) {
						continue
					}
					last = o.Status
					fmt.Fprintf(cmd.OutOrStdout(), "%s → %s\n", o.OrderNumber, o.Status)
					if lifecycle.IsTerminal(o.Status) {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing status changes until the order is finished")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List your orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			active, past, err := a.api.MyOrders(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "In progress:")
			printOrders(w, active)
			fmt.Fprintln(w, "\nPast:")
			printOrders(w, past)
			return nil
		},
	}
}

// --- Owner ---

func (a *app) ownerActor(ctx context.Context) (lifecycle.Actor, error) {
	ident, err := a.api.CurrentSession(ctx)
	if err != nil {
		return lifecycle.Actor{}, err
	}
	if ident.Role != enum.RoleOwner {
		return lifecycle.Actor{}, lifecycle.ErrForbidden
	}
	return lifecycle.Actor{UserID: ident.ID, Email: ident.Email}, nil
}

func (a *app) newBoard(ctx context.Context, w io.Writer) (*lifecycle.Board, error) {
	actor, err := a.ownerActor(ctx)
	if err != nil {
		return nil, err
	}
	notices := optimistic.NotifierFunc(func(n optimistic.Notice) {
		fmt.Fprintf(w, "! change to order %s was rolled back: %v\n", n.Key, n.Err)
	})
	board := lifecycle.NewBoard(a.engine, a.api, actor, notices)
	if err := board.Load(ctx); err != nil {
		return nil, err
	}
	return board, nil
}

func (a *app) boardCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show live orders (owner)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()
			board, err := a.newBoard(ctx, w)
			if err != nil {
				return err
			}
			printOrders(w, board.Orders())
			printStats(w, board.Stats())
			if !watch {
				return nil
			}

			stop := board.OnChange(func(orders []model.Order) {
				fmt.Fprintln(w, "\n--- updated ---")
				printOrders(w, orders)
			})
			defer stop()
			sub, err := board.Watch(ctx)
			if err != nil {
				return err
			}
			defer sub.Close()
			select {
			case <-ctx.Done():
				return nil
			case <-sub.Done():
				return sub.Err()
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep the board open and print changes")
	return cmd
}

func (a *app) advanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <order-id> [status]",
		Short: "Move an order to its next status, or to the given one (owner)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return lifecycle.ErrOrderNotFound
			}
			board, err := a.newBoard(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			current, ok := findOrder(board.Orders(), id)
			if !ok {
				return lifecycle.ErrOrderNotFound
			}
			target := lifecycle.NextStatus(current.Status)
			if len(args) == 2 {
				target = strings.ToLower(args[1])
			}
			if target == "" {
				return fmt.Errorf("%w: %s is final", lifecycle.ErrInvalidTransition, current.Status)
			}
			if err := board.Advance(ctx, id, target); err != nil {
				if errors.Is(err, client.ErrTimeout) {
					return fmt.Errorf("%w; the order was left unchanged", err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s → %s\n", current.OrderNumber, current.Status, target)
			return nil
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	var (
		start, end string
		watch      bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show order counters and revenue (owner)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				return a.watchStats(cmd.Context(), cmd.OutOrStdout())
			}
			stats, err := a.api.DashboardStats(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "from", "", "First day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "to", "", "Last day (YYYY-MM-DD)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Recompute over recent orders on every change")
	return cmd
}

// watchStats keeps a cache of recent orders in step with the change feed and
// prints the counters after every refresh.
func (a *app) watchStats(ctx context.Context, w io.Writer) error {
	cache := catalog.New(a.api, catalog.Options{Orders: a.api})
	if err := cache.Refresh(ctx); err != nil {
		return err
	}
	printStats(w, lifecycle.ComputeStats(cache.Snapshot().Orders))

	stop := cache.OnChange(func(s *catalog.Snapshot) {
		printStats(w, lifecycle.ComputeStats(s.Orders))
	})
	defer stop()
	unsubscribe, err := cache.Subscribe(ctx, a.feed)
	if err != nil {
		return err
	}
	defer unsubscribe()

	<-ctx.Done()
	return nil
}

// --- Helpers ---

// pickToppings resolves topping names against the item's options.
func pickToppings(item model.MenuItem, names []string) ([]model.Modifier, error) {
	mods := make([]model.Modifier, 0, len(names))
	for _, name := range names {
		found := false
		for _, t := range item.Toppings {
			if strings.EqualFold(t.Name, strings.TrimSpace(name)) {
				mods = append(mods, t)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", lifecycle.ErrUnknownModifier, name)
		}
	}
	return mods, nil
}

func findOrder(orders []model.Order, id uuid.UUID) (model.Order, bool) {
	for _, o := range orders {
		if o.ID == id {
			return o, true
		}
	}
	return model.Order{}, false
}

func formatModifiers(mods []model.Modifier) string {
	parts := make([]string, len(mods))
	for i, m := range mods {
		if m.Price.Equal(decimal.Zero) {
			parts[i] = m.Name
		} else {
			parts[i] = fmt.Sprintf("%s (+%s)", m.Name, m.Price.StringFixed(2))
		}
	}
	return strings.Join(parts, ", ")
}

func printOrder(w io.Writer, o model.Order) {
	table := "-"
	if o.TableNumber != nil {
		table = *o.TableNumber
	}
	fmt.Fprintf(w, "Order %s  status: %s  table: %s  total: %s\n", o.OrderNumber, o.Status, table, o.TotalAmount.StringFixed(2))
	for _, it := range o.Items {
		name := it.MenuItemName
		if name == "" {
			name = it.MenuItemID.String()
		}
		fmt.Fprintf(w, "  %d x %s %s  %s\n", it.Quantity, name, formatModifiers(it.SelectedToppings), it.LineTotal().StringFixed(2))
	}
}

func printOrders(w io.Writer, orders []model.Order) {
	if len(orders) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNUMBER\tSTATUS\tTABLE\tCUSTOMER\tTOTAL\tPLACED")
	for _, o := range orders {
		table := ""
		if o.TableNumber != nil {
			table = *o.TableNumber
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.OrderNumber, o.Status, table, o.CustomerName, o.TotalAmount.StringFixed(2), o.CreatedAt.Local().Format("Jan 2 15:04"))
	}
	tw.Flush()
}

func printStats(w io.Writer, s lifecycle.Stats) {
	fmt.Fprintf(w, "Orders: %d  pending: %d  completed: %d  cancelled: %d  revenue: %s\n",
		s.TotalOrders, s.Pending, s.Completed, s.Cancelled, s.Revenue.StringFixed(2))
}
